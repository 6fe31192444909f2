package fdfs

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Client is the struct for containing all you need for FastDFS access.
type Client struct {
	config   *ClientConfig
	registry *Registry
	commands *Commands
	logger   logrus.FieldLogger
	closed   atomic.Bool
}

// NewClient validates config, builds a registry for its trackers and returns a ready client.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, configError("client config is nil")
	}

	clientConfig := *config
	clientConfig.ApplyDefaults()
	if err := clientConfig.Validate(); err != nil {
		return nil, err
	}

	logger := NewLogger(clientConfig.LogLevel)

	registry, err := NewRegistry(&clientConfig, logger)
	if err != nil {
		return nil, err
	}

	trackers, err := ParseEndpoints(clientConfig.Trackers)
	if err != nil {
		return nil, err
	}

	if err = registry.Initialize(trackers); err != nil {
		return nil, err
	}

	return NewClientWithRegistry(registry, &clientConfig, logger)
}

// NewClientWithRegistry creates a client on top of an already initialized registry.
func NewClientWithRegistry(registry *Registry, config *ClientConfig, logger logrus.FieldLogger) (*Client, error) {
	if registry == nil {
		return nil, configError("registry is nil")
	}

	if config == nil {
		config = DefaultClientConfig()
	}

	codec, err := NewTextCodec(config.TextEncoding)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = discardLogger()
	}

	return &Client{
		config:   config,
		registry: registry,
		commands: NewCommands(codec),
		logger:   logger.WithField("component", "client"),
	}, nil
}

// Registry exposes the pools behind the client.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Commands exposes the command builder using the client's text encoding.
func (c *Client) Commands() *Commands {
	return c.commands
}

// GetStorageNode asks a tracker for an upload target. An empty group lets the tracker choose.
func (c *Client) GetStorageNode(group string) (*StorageNode, error) {
	cmd := c.commands.QueryStoreWithoutGroup()
	if group != "" {
		var err error
		if cmd, err = c.commands.QueryStoreWithGroup(group); err != nil {
			return nil, err
		}
	}

	return trackerDo(c, cmd)
}

// GetFetchStorage asks a tracker which storage node can serve fileName.
func (c *Client) GetFetchStorage(group, fileName string) (*StorageNode, error) {
	cmd, err := c.commands.QueryFetch(group, GetFileName(group, fileName))
	if err != nil {
		return nil, err
	}

	return trackerDo(c, cmd)
}

// GetUpdateStorage asks a tracker which storage node accepts changes to fileName.
func (c *Client) GetUpdateStorage(group, fileName string) (*StorageNode, error) {
	cmd, err := c.commands.QueryUpdate(group, GetFileName(group, fileName))
	if err != nil {
		return nil, err
	}

	return trackerDo(c, cmd)
}

// UploadFile stores content on node and returns the new file id.
func (c *Client) UploadFile(node *StorageNode, content []byte, ext string) (*FileID, error) {
	if node == nil {
		return nil, argumentError("storage node is nil")
	}

	cmd, err := c.commands.UploadFile(node.StorePathIndex, ext, content)
	if err != nil {
		return nil, err
	}

	fileID, err := storageDo(c, node.Endpoint, cmd)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{"file": fileID.String(), "size": len(content)}).Debug("file uploaded")
	return fileID, nil
}

// UploadAppenderFile stores content on node as an appender file.
func (c *Client) UploadAppenderFile(node *StorageNode, content []byte, ext string) (*FileID, error) {
	if node == nil {
		return nil, argumentError("storage node is nil")
	}

	cmd, err := c.commands.UploadAppenderFile(node.StorePathIndex, ext, content)
	if err != nil {
		return nil, err
	}

	return storageDo(c, node.Endpoint, cmd)
}

// UploadSlaveFile stores content as a slave of masterFileName on the master's storage node.
func (c *Client) UploadSlaveFile(group, masterFileName, prefix, ext string, content []byte) (*FileID, error) {
	masterFileName = GetFileName(group, masterFileName)

	node, err := c.GetUpdateStorage(group, masterFileName)
	if err != nil {
		return nil, err
	}

	cmd, err := c.commands.UploadSlaveFile(masterFileName, prefix, ext, content)
	if err != nil {
		return nil, err
	}

	return storageDo(c, node.Endpoint, cmd)
}

// AppendFile appends content to an appender file.
func (c *Client) AppendFile(group, appenderFileName string, content []byte) error {
	appenderFileName = GetFileName(group, appenderFileName)

	node, err := c.GetUpdateStorage(group, appenderFileName)
	if err != nil {
		return err
	}

	cmd, err := c.commands.AppendFile(appenderFileName, content)
	if err != nil {
		return err
	}

	_, err = storageDo(c, node.Endpoint, cmd)
	return err
}

// ModifyFile overwrites part of an appender file starting at offset.
func (c *Client) ModifyFile(group, appenderFileName string, offset int64, content []byte) error {
	appenderFileName = GetFileName(group, appenderFileName)

	node, err := c.GetUpdateStorage(group, appenderFileName)
	if err != nil {
		return err
	}

	cmd, err := c.commands.ModifyFile(appenderFileName, offset, content)
	if err != nil {
		return err
	}

	_, err = storageDo(c, node.Endpoint, cmd)
	return err
}

// TruncateFile cuts an appender file down to size bytes.
func (c *Client) TruncateFile(group, appenderFileName string, size int64) error {
	appenderFileName = GetFileName(group, appenderFileName)

	node, err := c.GetUpdateStorage(group, appenderFileName)
	if err != nil {
		return err
	}

	cmd, err := c.commands.TruncateFile(appenderFileName, size)
	if err != nil {
		return err
	}

	_, err = storageDo(c, node.Endpoint, cmd)
	return err
}

// RemoveFile deletes a file from the storage node the tracker names for updates.
func (c *Client) RemoveFile(group, fileName string) error {
	fileName = GetFileName(group, fileName)

	node, err := c.GetUpdateStorage(group, fileName)
	if err != nil {
		return err
	}

	cmd, err := c.commands.DeleteFile(group, fileName)
	if err != nil {
		return err
	}

	if _, err = storageDo(c, node.Endpoint, cmd); err != nil {
		return err
	}

	c.logger.WithField("file", group+"/"+fileName).Debug("file removed")
	return nil
}

// DownloadFile reads a whole file into memory.
func (c *Client) DownloadFile(node *StorageNode, fileName string) ([]byte, error) {
	return c.DownloadFileRange(node, fileName, 0, 0)
}

// DownloadFileRange reads length bytes from offset; a zero length reads to the end.
func (c *Client) DownloadFileRange(node *StorageNode, fileName string, offset, length int64) ([]byte, error) {
	if node == nil {
		return nil, argumentError("storage node is nil")
	}

	cmd, err := c.commands.DownloadFile(node.GroupName, GetFileName(node.GroupName, fileName), offset, length)
	if err != nil {
		return nil, err
	}

	return storageDo(c, node.Endpoint, cmd)
}

// DownloadFileTo streams a whole file into w and returns the bytes written.
func (c *Client) DownloadFileTo(node *StorageNode, fileName string, w io.Writer) (int64, error) {
	if node == nil {
		return 0, argumentError("storage node is nil")
	}

	cmd, err := c.commands.DownloadFile(node.GroupName, GetFileName(node.GroupName, fileName), 0, 0)
	if err != nil {
		return 0, err
	}

	if err = c.checkOpen(); err != nil {
		return 0, err
	}

	var written int64
	err = c.registry.WithStorageSession(node.Endpoint, func(session *Session) error {
		var exchangeErr error
		written, exchangeErr = ExchangeTo(session, cmd.Header(), cmd.Body, w)
		return exchangeErr
	})

	return written, err
}

// DownloadFileAsync downloads on its own goroutine; the channel yields exactly one result.
func (c *Client) DownloadFileAsync(node *StorageNode, fileName string) <-chan AsyncResult[[]byte] {
	result := make(chan AsyncResult[[]byte], 1)

	go func() {
		defer close(result)
		data, err := c.DownloadFile(node, fileName)
		result <- AsyncResult[[]byte]{Value: data, Err: err}
	}()

	return result
}

// GetFileInfo fetches size, creation time, crc32 and source ip of a file stored on node.
func (c *Client) GetFileInfo(node *StorageNode, fileName string) (*FileInfo, error) {
	if node == nil {
		return nil, argumentError("storage node is nil")
	}

	cmd, err := c.commands.QueryFileInfo(node.GroupName, GetFileName(node.GroupName, fileName))
	if err != nil {
		return nil, err
	}

	return storageDo(c, node.Endpoint, cmd)
}

// Shutdown closes every pooled session. Later calls fail with ErrPoolClosed.
func (c *Client) Shutdown() {
	if c.closed.Swap(true) {
		return
	}

	c.registry.Reset()
	c.logger.Info("client shut down")
}

func (c *Client) checkOpen() error {
	if c.closed.Load() {
		return &ConnectionError{Op: "client", Err: ErrPoolClosed}
	}
	return nil
}

func trackerDo[R any](c *Client, cmd Command[R]) (R, error) {
	var value R
	if err := c.checkOpen(); err != nil {
		return value, err
	}

	err := c.registry.WithTrackerSession(func(session *Session) error {
		var doErr error
		value, doErr = Do(session, cmd)
		return doErr
	})
	return value, err
}

func storageDo[R any](c *Client, endpoint Endpoint, cmd Command[R]) (R, error) {
	var value R
	if err := c.checkOpen(); err != nil {
		return value, err
	}

	err := c.registry.WithStorageSession(endpoint, func(session *Session) error {
		var doErr error
		value, doErr = Do(session, cmd)
		return doErr
	})
	return value, err
}
