package fdfs

import "time"

// Field widths shared by every command body.
const (
	HeaderSize          = 10
	PkgLenSize          = 8  // every length/offset/port field
	GroupNameMaxLen     = 16 // group name slot
	IPAddressSize       = 16 // ip slot, last byte reserved
	FileExtNameMaxLen   = 6
	FilePrefixMaxLen    = 16
	StorePathIndexSize  = 1
	storageNodeBodySize = GroupNameMaxLen + IPAddressSize - 1 + PkgLenSize
	fileInfoBodySize    = 3*PkgLenSize + IPAddressSize
)

// Command codes, FastDFS protocol v5/v6.
const (
	CmdQuit     byte = 82
	CmdResponse byte = 100

	TrackerCmdQueryStoreWithoutGroupOne byte = 101
	TrackerCmdQueryFetchOne             byte = 102
	TrackerCmdQueryUpdate               byte = 103
	TrackerCmdQueryStoreWithGroupOne    byte = 104

	StorageCmdUploadFile         byte = 11
	StorageCmdDeleteFile         byte = 12
	StorageCmdDownloadFile       byte = 14
	StorageCmdUploadSlaveFile    byte = 21
	StorageCmdQueryFileInfo      byte = 22
	StorageCmdUploadAppenderFile byte = 23
	StorageCmdAppendFile         byte = 24
	StorageCmdModifyFile         byte = 34
	StorageCmdTruncateFile       byte = 36
)

const (
	maxConnectFailures = 3
	trackerCoolDown    = 10 * time.Minute // how long a disabled tracker pool sits out
)
