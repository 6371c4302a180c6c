package grpcserver

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"fkmap/internal/dataset"
	"fkmap/internal/fsutil"
)

// Client calls a remote Lookup service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Nearest returns the row closest to (f, k) and its index.
func (c *Client) Nearest(ctx context.Context, f, k float64) (int, dataset.Row, error) {
	req, err := structpb.NewStruct(map[string]any{"f": f, "k": k})
	if err != nil {
		return 0, dataset.Row{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Nearest", req, resp); err != nil {
		return 0, dataset.Row{}, err
	}
	i, row := parseRow(resp)
	return i, row, nil
}

// Summary returns the remote column statistics as a flat map.
func (c *Client) Summary(ctx context.Context) (map[string]any, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Summary", &structpb.Struct{}, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// Rows streams up to limit rows; limit <= 0 means all.
func (c *Client) Rows(ctx context.Context, limit int) ([]dataset.Row, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/Rows")
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	var rows []dataset.Row
	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		_, row := parseRow(msg)
		rows = append(rows, row)
	}
}

func parseRow(s *structpb.Struct) (int, dataset.Row) {
	f := s.GetFields()
	path, err := fsutil.UnescapePath(f["path"].GetStringValue())
	if err != nil {
		path = f["path"].GetStringValue()
	}
	return int(f["index"].GetNumberValue()), dataset.Row{
		F:         f["f"].GetNumberValue(),
		K:         f["k"].GetNumberValue(),
		Variation: f["variation"].GetNumberValue(),
		Path:      path,
	}
}
