package gateway

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the gateway services.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a new Client over the given connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{
		conn: conn,
	}
}

// ListRoutes fetches the routing table.
func (m *Client) ListRoutes(ctx context.Context) ([]RouteRecord, error) {
	resp, err := m.list(ctx, "ListRoutes")
	if err != nil {
		return nil, err
	}
	return decodeList(resp, "routes", decodeRoute)
}

// ListNeighbours fetches the ARP cache and the number of pending
// resolutions.
func (m *Client) ListNeighbours(ctx context.Context) ([]NeighbourRecord, int, error) {
	resp, err := m.list(ctx, "ListNeighbours")
	if err != nil {
		return nil, 0, err
	}

	records, err := decodeList(resp, "neighbours", decodeNeighbour)
	if err != nil {
		return nil, 0, err
	}
	pending := int(resp.GetFields()["pending"].GetNumberValue())

	return records, pending, nil
}

// ListInterfaces fetches the router interfaces.
func (m *Client) ListInterfaces(ctx context.Context) ([]InterfaceRecord, error) {
	resp, err := m.list(ctx, "ListInterfaces")
	if err != nil {
		return nil, err
	}
	return decodeList(resp, "interfaces", decodeInterface)
}

// UpdateLevel changes the minimum logging level of the router.
func (m *Client) UpdateLevel(ctx context.Context, level string) error {
	req, err := structpb.NewStruct(map[string]any{"level": level})
	if err != nil {
		return err
	}

	resp := &emptypb.Empty{}
	if err := m.conn.Invoke(ctx, "/"+LoggingServiceName+"/UpdateLevel", req, resp); err != nil {
		return fmt.Errorf("failed to update log level: %w", err)
	}
	return nil
}

func (m *Client) list(ctx context.Context, method string) (*structpb.Struct, error) {
	resp := &structpb.Struct{}
	if err := m.conn.Invoke(ctx, "/"+InspectServiceName+"/"+method, &emptypb.Empty{}, resp); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return resp, nil
}
