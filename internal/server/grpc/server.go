package grpc

import (
	"context"
	"net"
	"net/netip"

	"github.com/dmitrijs2005/pindrop/internal/logging"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/dmitrijs2005/pindrop/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the part of services.BucketService the transport calls.
type Service interface {
	CreateContainer(ctx context.Context, ownerID string, meta models.BucketMeta) (*models.Bucket, string, error)
	GetContainer(ctx context.Context, id string) (*models.Bucket, error)
	GetOwnedContainer(ctx context.Context, ownerID, id string) (*models.Bucket, error)
	ListOwnedContainers(ctx context.Context, ownerID string) ([]*models.Bucket, error)
	ListSharedContainers(ctx context.Context, email string) ([]*models.Bucket, error)
	UpdateContainer(ctx context.Context, ownerID, id string, patch models.BucketPatch) (*models.Bucket, error)
	DeactivateContainer(ctx context.Context, ownerID, id string) error
	RestoreContainer(ctx context.Context, ownerID, id string) (*models.Bucket, error)
	DeleteContainer(ctx context.Context, ownerID, id string) error
	RevealPin(ctx context.Context, ownerID, id string) (string, error)

	ResolveByPin(ctx context.Context, pin, origin, challengeToken string) (*models.Bucket, error)
	AuthorizeBucket(ctx context.Context, bucketID, pin, origin, challengeToken string) (services.Access, error)
	AuthorizeOwner(ctx context.Context, ownerID, bucketID string) (services.Access, error)

	ListFiles(ctx context.Context, acc services.Access) ([]*models.File, error)
	UploadFiles(ctx context.Context, acc services.Access, inputs []models.UploadInput) (services.UploadResult, error)
	RenameFile(ctx context.Context, acc services.Access, fileID, name string) (*models.File, error)
	DeleteFile(ctx context.Context, acc services.Access, fileID string) error
	DownloadFile(ctx context.Context, acc services.Access, fileID string) (*models.File, error)
}

type GRPCServer struct {
	address        string
	buckets        Service
	logger         logging.Logger
	jwtSecret      []byte
	maxRecvMsgSize int
	trustedProxies []netip.Prefix
}

var _ BucketsServer = (*GRPCServer)(nil)

// NewGRPCServer builds the transport. maxRecvMsgSize bounds one request,
// which for UploadFiles carries the file content. x-forwarded-for is only
// read from peers inside trustedProxies.
func NewGRPCServer(address string, l logging.Logger, svc Service, secretKey string, maxRecvMsgSize int, trustedProxies []netip.Prefix) *GRPCServer {
	return &GRPCServer{
		address:        address,
		buckets:        svc,
		logger:         l.With("module", "grpc_server"),
		jwtSecret:      []byte(secretKey),
		maxRecvMsgSize: maxRecvMsgSize,
		trustedProxies: trustedProxies,
	}
}

func (s *GRPCServer) newServer() (*grpc.Server, *health.Server) {
	// The buckets service speaks the registered json codec; health stays on proto.
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor),
	}
	if s.maxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.maxRecvMsgSize))
	}
	srv := grpc.NewServer(opts...)
	RegisterBucketsServer(srv, s)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

// Run serves until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv, hs := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}
