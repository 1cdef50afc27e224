// Package grpcstatus implements a minimal "worker status" RPC for cmd/srctl,
// Stone Ridge's operator CLI. The usual protoc-generated stub approach for
// a gRPC service isn't available without running codegen, so this service
// carries its payload as a structpb.Struct (already a proto.Message, no
// codegen required) behind a hand-authored grpc.ServiceDesc. Grounded on
// the status queries srterm.py/srwrapper.py make against a running worker.
package grpcstatus

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service path srctl dials.
const ServiceName = "stoneridge.WorkerStatus"

// Snapshot is a point-in-time view of a worker's current run.
type Snapshot struct {
	Srid         string
	Netconfig    string
	OS           string
	Stage        string
	Since        time.Time
	QueueBacklog int
	Idle         bool
}

// Provider is implemented by anything that can report its current status,
// e.g. internal/worker.Tracker.
type Provider interface {
	Status() Snapshot
}

func (s Snapshot) toStruct() *structpb.Struct {
	since := ""
	if !s.Since.IsZero() {
		since = s.Since.UTC().Format(time.RFC3339)
	}
	st, _ := structpb.NewStruct(map[string]any{
		"srid":          s.Srid,
		"netconfig":     s.Netconfig,
		"os":            s.OS,
		"stage":         s.Stage,
		"since":         since,
		"queue_backlog": float64(s.QueueBacklog),
		"idle":          s.Idle,
	})
	return st
}

func snapshotFromStruct(st *structpb.Struct) Snapshot {
	fields := st.GetFields()
	field := func(k string) string { return fields[k].GetStringValue() }
	since, _ := time.Parse(time.RFC3339, field("since"))
	return Snapshot{
		Srid:         field("srid"),
		Netconfig:    field("netconfig"),
		OS:           field("os"),
		Stage:        field("stage"),
		Since:        since,
		QueueBacklog: int(fields["queue_backlog"].GetNumberValue()),
		Idle:         fields["idle"].GetBoolValue(),
	}
}

type server struct {
	provider Provider
}

func (s *server) status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.provider.Status().toStruct(), nil
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*server).status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Status"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*server).status(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stoneridge/grpcstatus",
}

// Register attaches the worker-status service to gs, backed by provider.
func Register(gs *grpc.Server, provider Provider) {
	gs.RegisterService(&serviceDesc, &server{provider: provider})
}

// Client dials a worker's status service. Workers live on a trusted
// internal network, so the connection is plaintext, matching the rest of
// the fleet's intra-cluster RPCs.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a worker's status endpoint at target ("host:port").
func Dial(target string) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcstatus: dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Status fetches the worker's current status snapshot.
func (c *Client) Status(ctx context.Context) (Snapshot, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Status", &structpb.Struct{}, out); err != nil {
		return Snapshot{}, fmt.Errorf("grpcstatus: status rpc: %w", err)
	}
	return snapshotFromStruct(out), nil
}
