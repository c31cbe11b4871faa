package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/buger/jsonparser"

	"github.com/austinkregel/local-media/vizd/internal/ipc"
)

// envelope is one decoded line from the daemon
type envelope struct {
	// Push is the push type; empty for responses
	Push    string
	Success bool
	Error   string
	Data    []byte
}

// parseEnvelope peeks at a line without decoding the payload
func parseEnvelope(line []byte) (envelope, error) {
	var env envelope

	if t, err := jsonparser.GetString(line, "type"); err == nil {
		env.Push = t
		env.Data = dataField(line)
		return env, nil
	}

	ok, err := jsonparser.GetBoolean(line, "success")
	if err != nil {
		return env, fmt.Errorf("malformed reply: %w", err)
	}
	env.Success = ok
	if !ok {
		env.Error, _ = jsonparser.GetString(line, "error")
	}
	env.Data = dataField(line)
	return env, nil
}

func dataField(line []byte) []byte {
	value, dataType, _, err := jsonparser.Get(line, "data")
	if err != nil || dataType == jsonparser.NotExist {
		return nil
	}
	return value
}

// client speaks newline-delimited JSON to the daemon socket
type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(socketPath string) (*client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("cannot reach vizd at %s: %w", socketPath, err)
	}
	return &client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

func (c *client) send(cmd ipc.CommandType, data interface{}) error {
	req := &ipc.Request{Cmd: cmd}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		req.Data = raw
	}
	line, err := ipc.EncodeRequest(req)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(append(line, '\n'))
	return err
}

func (c *client) next() (envelope, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return envelope{}, err
	}
	return parseEnvelope(line)
}

// call sends a command and returns the response data, skipping pushes
func (c *client) call(cmd ipc.CommandType, data interface{}) ([]byte, error) {
	if err := c.send(cmd, data); err != nil {
		return nil, err
	}
	for {
		env, err := c.next()
		if err != nil {
			return nil, err
		}
		if env.Push != "" {
			continue
		}
		if !env.Success {
			if env.Error == "" {
				return nil, errors.New("request failed")
			}
			return nil, errors.New(env.Error)
		}
		return env.Data, nil
	}
}
