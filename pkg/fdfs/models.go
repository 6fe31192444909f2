package fdfs

import (
	"strings"
	"time"
)

// StorageNode is a storage server picked by a tracker.
// StorePathIndex is only set by store queries, never by update/fetch queries.
type StorageNode struct {
	GroupName      string
	Endpoint       Endpoint
	StorePathIndex byte
}

// FileID names a stored file: group plus remote file name ("M00/00/00/xxx.jpg").
type FileID struct {
	GroupName string
	FileName  string
}

func (f FileID) String() string {
	return f.GroupName + "/" + f.FileName
}

// FileInfo is the metadata returned by a file info query.
type FileInfo struct {
	FileSize   int64
	CreateTime time.Time
	CRC32      uint32
	SourceIP   string
}

// SplitFileID splits "group/remote/file/name" at the first slash.
func SplitFileID(fileID string) (FileID, error) {
	fileID = strings.TrimPrefix(fileID, "/")
	index := strings.Index(fileID, "/")
	if index <= 0 || index == len(fileID)-1 {
		return FileID{}, argumentError("file id %q has no group prefix", fileID)
	}

	return FileID{GroupName: fileID[:index], FileName: fileID[index+1:]}, nil
}

// GetFileName strips a leading "group/" from fileName when it names the same group.
func GetFileName(groupName, fileName string) string {
	prefix := groupName + "/"
	if len(fileName) >= len(prefix) && strings.EqualFold(fileName[:len(prefix)], prefix) {
		return fileName[len(prefix):]
	}
	return fileName
}
