package fdfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Command pairs one request frame with the decoder of its response body.
// The exchange engine only ever sees Code and Body.
type Command[R any] struct {
	Name   string
	Code   byte
	Body   []byte
	Decode func(body []byte) (R, error)
}

// Header returns the request header for the command.
func (c Command[R]) Header() Header {
	return NewRequestHeader(c.Code, len(c.Body))
}

// AsyncResult is the single value delivered by DoAsync.
type AsyncResult[R any] struct {
	Value R
	Err   error
}

// Do performs the command on session and decodes the response.
// A decode failure is a ProtocolError but leaves the session reusable.
func Do[R any](session *Session, cmd Command[R]) (R, error) {
	var zero R

	body, err := Exchange(session, cmd.Header(), cmd.Body)
	if err != nil {
		return zero, err
	}

	result, err := cmd.Decode(body)
	if err != nil {
		return zero, &ProtocolError{
			Endpoint: session.Endpoint,
			Command:  cmd.Code,
			Reason:   "decode " + cmd.Name + " response",
			Err:      err,
		}
	}

	return result, nil
}

// DoAsync runs Do on its own goroutine.
func DoAsync[R any](session *Session, cmd Command[R]) <-chan AsyncResult[R] {
	result := make(chan AsyncResult[R], 1)

	go func() {
		defer close(result)
		value, err := Do(session, cmd)
		result <- AsyncResult[R]{Value: value, Err: err}
	}()

	return result
}

// Commands builds request frames, encoding text fields with one codec.
type Commands struct {
	codec *TextCodec
}

// NewCommands creates a command builder; a nil codec means UTF-8.
func NewCommands(codec *TextCodec) *Commands {
	if codec == nil {
		codec = UTF8Codec()
	}
	return &Commands{codec: codec}
}

// QueryStoreWithoutGroup asks a tracker for any storage node able to take an upload.
func (c *Commands) QueryStoreWithoutGroup() Command[*StorageNode] {
	return Command[*StorageNode]{
		Name:   "query store without group",
		Code:   TrackerCmdQueryStoreWithoutGroupOne,
		Body:   []byte{},
		Decode: c.decodeStorageNode(true),
	}
}

// QueryStoreWithGroup asks a tracker for an upload target inside group.
func (c *Commands) QueryStoreWithGroup(group string) (Command[*StorageNode], error) {
	body := &bodyBuilder{codec: c.codec}
	body.putFixed(group, GroupNameMaxLen)
	if body.err != nil {
		return Command[*StorageNode]{}, body.err
	}

	return Command[*StorageNode]{
		Name:   "query store with group",
		Code:   TrackerCmdQueryStoreWithGroupOne,
		Body:   body.Bytes(),
		Decode: c.decodeStorageNode(true),
	}, nil
}

// QueryUpdate asks a tracker which storage node accepts changes to an existing file.
func (c *Commands) QueryUpdate(group, fileName string) (Command[*StorageNode], error) {
	return c.queryFile("query update", TrackerCmdQueryUpdate, group, fileName)
}

// QueryFetch asks a tracker which storage node can serve a download of an existing file.
func (c *Commands) QueryFetch(group, fileName string) (Command[*StorageNode], error) {
	return c.queryFile("query fetch", TrackerCmdQueryFetchOne, group, fileName)
}

func (c *Commands) queryFile(name string, code byte, group, fileName string) (Command[*StorageNode], error) {
	body := &bodyBuilder{codec: c.codec}
	body.putFixed(group, GroupNameMaxLen)
	body.putText(fileName)
	if body.err != nil {
		return Command[*StorageNode]{}, body.err
	}

	return Command[*StorageNode]{
		Name:   name,
		Code:   code,
		Body:   body.Bytes(),
		Decode: c.decodeStorageNode(false),
	}, nil
}

// UploadFile stores content as a regular file.
func (c *Commands) UploadFile(storePathIndex byte, ext string, content []byte) (Command[*FileID], error) {
	return c.upload("upload file", StorageCmdUploadFile, storePathIndex, ext, content)
}

// UploadAppenderFile stores content as a file that later accepts append/modify/truncate.
func (c *Commands) UploadAppenderFile(storePathIndex byte, ext string, content []byte) (Command[*FileID], error) {
	return c.upload("upload appender file", StorageCmdUploadAppenderFile, storePathIndex, ext, content)
}

func (c *Commands) upload(name string, code byte, storePathIndex byte, ext string, content []byte) (Command[*FileID], error) {
	body := &bodyBuilder{codec: c.codec}
	body.WriteByte(storePathIndex)
	body.putInt64(int64(len(content)))
	body.putFixed(strings.TrimPrefix(ext, "."), FileExtNameMaxLen)
	body.Write(content)
	if body.err != nil {
		return Command[*FileID]{}, body.err
	}

	return Command[*FileID]{Name: name, Code: code, Body: body.Bytes(), Decode: c.decodeFileID}, nil
}

// UploadSlaveFile stores content as a slave of masterFileName, named by prefix.
func (c *Commands) UploadSlaveFile(masterFileName, prefix, ext string, content []byte) (Command[*FileID], error) {
	master, err := c.codec.Encode(masterFileName)
	if err != nil {
		return Command[*FileID]{}, err
	}

	body := &bodyBuilder{codec: c.codec}
	body.putInt64(int64(len(master)))
	body.putInt64(int64(len(content)))
	body.putFixed(prefix, FilePrefixMaxLen)
	body.putFixed(strings.TrimPrefix(ext, "."), FileExtNameMaxLen)
	body.Write(master)
	body.Write(content)
	if body.err != nil {
		return Command[*FileID]{}, body.err
	}

	return Command[*FileID]{
		Name:   "upload slave file",
		Code:   StorageCmdUploadSlaveFile,
		Body:   body.Bytes(),
		Decode: c.decodeFileID,
	}, nil
}

// AppendFile appends content to an appender file.
func (c *Commands) AppendFile(appenderFileName string, content []byte) (Command[struct{}], error) {
	name, err := c.codec.Encode(appenderFileName)
	if err != nil {
		return Command[struct{}]{}, err
	}

	body := &bodyBuilder{codec: c.codec}
	body.putInt64(int64(len(name)))
	body.putInt64(int64(len(content)))
	body.Write(name)
	body.Write(content)

	return Command[struct{}]{Name: "append file", Code: StorageCmdAppendFile, Body: body.Bytes(), Decode: decodeEmpty}, nil
}

// ModifyFile overwrites an appender file starting at offset.
func (c *Commands) ModifyFile(appenderFileName string, offset int64, content []byte) (Command[struct{}], error) {
	if offset < 0 {
		return Command[struct{}]{}, argumentError("negative offset %d", offset)
	}

	name, err := c.codec.Encode(appenderFileName)
	if err != nil {
		return Command[struct{}]{}, err
	}

	body := &bodyBuilder{codec: c.codec}
	body.putInt64(int64(len(name)))
	body.putInt64(offset)
	body.putInt64(int64(len(content)))
	body.Write(name)
	body.Write(content)

	return Command[struct{}]{Name: "modify file", Code: StorageCmdModifyFile, Body: body.Bytes(), Decode: decodeEmpty}, nil
}

// TruncateFile cuts an appender file down to size bytes.
func (c *Commands) TruncateFile(appenderFileName string, size int64) (Command[struct{}], error) {
	if size < 0 {
		return Command[struct{}]{}, argumentError("negative size %d", size)
	}

	name, err := c.codec.Encode(appenderFileName)
	if err != nil {
		return Command[struct{}]{}, err
	}

	body := &bodyBuilder{codec: c.codec}
	body.putInt64(int64(len(name)))
	body.putInt64(size)
	body.Write(name)

	return Command[struct{}]{Name: "truncate file", Code: StorageCmdTruncateFile, Body: body.Bytes(), Decode: decodeEmpty}, nil
}

// DeleteFile removes a file.
func (c *Commands) DeleteFile(group, fileName string) (Command[struct{}], error) {
	body := &bodyBuilder{codec: c.codec}
	body.putFixed(group, GroupNameMaxLen)
	body.putText(fileName)
	if body.err != nil {
		return Command[struct{}]{}, body.err
	}

	return Command[struct{}]{Name: "delete file", Code: StorageCmdDeleteFile, Body: body.Bytes(), Decode: decodeEmpty}, nil
}

// DownloadFile fetches length bytes starting at offset; a zero length means to the end.
func (c *Commands) DownloadFile(group, fileName string, offset, length int64) (Command[[]byte], error) {
	if offset < 0 || length < 0 {
		return Command[[]byte]{}, argumentError("negative offset %d or length %d", offset, length)
	}

	body := &bodyBuilder{codec: c.codec}
	body.putInt64(offset)
	body.putInt64(length)
	body.putFixed(group, GroupNameMaxLen)
	body.putText(fileName)
	if body.err != nil {
		return Command[[]byte]{}, body.err
	}

	return Command[[]byte]{
		Name:   "download file",
		Code:   StorageCmdDownloadFile,
		Body:   body.Bytes(),
		Decode: func(data []byte) ([]byte, error) { return data, nil },
	}, nil
}

// QueryFileInfo fetches size, creation time, crc32 and source ip of a file.
func (c *Commands) QueryFileInfo(group, fileName string) (Command[*FileInfo], error) {
	body := &bodyBuilder{codec: c.codec}
	body.putFixed(group, GroupNameMaxLen)
	body.putText(fileName)
	if body.err != nil {
		return Command[*FileInfo]{}, body.err
	}

	return Command[*FileInfo]{
		Name:   "query file info",
		Code:   StorageCmdQueryFileInfo,
		Body:   body.Bytes(),
		Decode: c.decodeFileInfo,
	}, nil
}

// decodeStorageNode parses group(16) ip(15) port(8) and, for store queries, path index(1).
func (c *Commands) decodeStorageNode(withPathIndex bool) func([]byte) (*StorageNode, error) {
	return func(body []byte) (*StorageNode, error) {
		want := storageNodeBodySize
		if withPathIndex {
			want += StorePathIndexSize
		}
		if len(body) != want {
			return nil, fmt.Errorf("body is %d bytes, want %d", len(body), want)
		}

		group, err := c.codec.Decode(body[:GroupNameMaxLen])
		if err != nil {
			return nil, err
		}

		ipEnd := GroupNameMaxLen + IPAddressSize - 1
		ip, err := c.codec.Decode(body[GroupNameMaxLen:ipEnd])
		if err != nil {
			return nil, err
		}

		port := int64(binary.BigEndian.Uint64(body[ipEnd : ipEnd+PkgLenSize]))
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("port %d out of range", port)
		}

		node := &StorageNode{GroupName: group, Endpoint: Endpoint{Host: ip, Port: int(port)}}
		if withPathIndex {
			node.StorePathIndex = body[storageNodeBodySize]
		}

		return node, nil
	}
}

func (c *Commands) decodeFileID(body []byte) (*FileID, error) {
	if len(body) <= GroupNameMaxLen {
		return nil, fmt.Errorf("body is %d bytes, want more than %d", len(body), GroupNameMaxLen)
	}

	group, err := c.codec.Decode(body[:GroupNameMaxLen])
	if err != nil {
		return nil, err
	}

	fileName, err := c.codec.Decode(body[GroupNameMaxLen:])
	if err != nil {
		return nil, err
	}

	return &FileID{GroupName: group, FileName: fileName}, nil
}

func (c *Commands) decodeFileInfo(body []byte) (*FileInfo, error) {
	if len(body) != fileInfoBodySize {
		return nil, fmt.Errorf("body is %d bytes, want %d", len(body), fileInfoBodySize)
	}

	sourceIP, err := c.codec.Decode(body[3*PkgLenSize:])
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		FileSize:   int64(binary.BigEndian.Uint64(body[0:PkgLenSize])),
		CreateTime: time.Unix(int64(binary.BigEndian.Uint64(body[PkgLenSize:2*PkgLenSize])), 0),
		CRC32:      uint32(binary.BigEndian.Uint64(body[2*PkgLenSize : 3*PkgLenSize])),
		SourceIP:   sourceIP,
	}, nil
}

func decodeEmpty([]byte) (struct{}, error) {
	return struct{}{}, nil
}

// bodyBuilder accumulates fields and keeps the first encoding error.
type bodyBuilder struct {
	bytes.Buffer
	codec *TextCodec
	err   error
}

func (b *bodyBuilder) putInt64(value int64) {
	var field [PkgLenSize]byte
	binary.BigEndian.PutUint64(field[:], uint64(value))
	b.Write(field[:])
}

func (b *bodyBuilder) putFixed(text string, width int) {
	if b.err != nil {
		return
	}
	field, err := b.codec.fixedField(text, width)
	if err != nil {
		b.err = err
		return
	}
	b.Write(field)
}

func (b *bodyBuilder) putText(text string) {
	if b.err != nil {
		return
	}
	data, err := b.codec.Encode(text)
	if err != nil {
		b.err = err
		return
	}
	b.Write(data)
}
