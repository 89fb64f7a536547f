package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FilesList returns records optionally filtered by statuses.
func (c *Client) FilesList(statuses []string) (*FilesListResponse, error) {
	var resp FilesListResponse
	if err := c.call("FilesList", FilesListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FileDescribe returns the record for name.
func (c *Client) FileDescribe(name string) (*FileDescribeResponse, error) {
	var resp FileDescribeResponse
	if err := c.call("FileDescribe", FileDescribeRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clear removes every record.
func (c *Client) Clear() (*ClearResponse, error) {
	var resp ClearResponse
	if err := c.call("Clear", ClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retry moves a failed file back into the import location.
func (c *Client) Retry(name string) (*MoveResponse, error) {
	var resp MoveResponse
	if err := c.call("Retry", RetryRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rename moves a failed file back into the import location as newName.
func (c *Client) Rename(name, newName string) (*MoveResponse, error) {
	var resp MoveResponse
	if err := c.call("Rename", RenameRequest{Name: name, NewName: newName}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sweep runs the cleanup rules now.
func (c *Client) Sweep() (*SweepResponse, error) {
	var resp SweepResponse
	if err := c.call("Sweep", SweepRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resync asks the daemon for an immediate full snapshot.
func (c *Client) Resync() (*ResyncResponse, error) {
	var resp ResyncResponse
	if err := c.call("Resync", ResyncRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop shuts the daemon down.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
