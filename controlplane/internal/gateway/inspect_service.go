package gateway

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yanet-platform/vrouter/modules/router"
	"github.com/yanet-platform/vrouter/modules/router/iface"
)

// Router is the part of the router the inspect service reads from.
type Router interface {
	Routes() []router.Route
	Neighbours() []router.Neighbour
	PendingResolutions() int
	Interfaces() []*iface.Interface
}

// InspectService exposes snapshots of the router state.
type InspectService struct {
	router Router
}

// NewInspectService creates a new InspectService.
func NewInspectService(router Router) *InspectService {
	return &InspectService{
		router: router,
	}
}

// ListRoutes returns the routing table.
func (m *InspectService) ListRoutes(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	routes := m.router.Routes()

	records := make([]RouteRecord, 0, len(routes))
	for _, route := range routes {
		records = append(records, newRouteRecord(route))
	}

	return m.respond(listStruct("routes", records))
}

// ListNeighbours returns the ARP cache together with the number of next
// hops still being resolved.
func (m *InspectService) ListNeighbours(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	entries := m.router.Neighbours()

	records := make([]NeighbourRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, newNeighbourRecord(entry))
	}

	resp, err := listStruct("neighbours", records)
	if err != nil {
		return m.respond(nil, err)
	}
	resp.Fields["pending"] = structpb.NewNumberValue(float64(m.router.PendingResolutions()))

	return resp, nil
}

// ListInterfaces returns the router interfaces.
func (m *InspectService) ListInterfaces(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	ifaces := m.router.Interfaces()

	records := make([]InterfaceRecord, 0, len(ifaces))
	for _, ifc := range ifaces {
		records = append(records, newInterfaceRecord(ifc))
	}

	return m.respond(listStruct("interfaces", records))
}

func (m *InspectService) respond(resp *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return resp, nil
}
