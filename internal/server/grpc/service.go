package grpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "pindrop.v1.Buckets"

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// BucketsServer is the server API of pindrop.v1.Buckets.
type BucketsServer interface {
	CreateBucket(context.Context, *CreateBucketRequest) (*CreateBucketResponse, error)
	GetBucket(context.Context, *BucketRequest) (*BucketResponse, error)
	ListBuckets(context.Context, *Empty) (*ListBucketsResponse, error)
	ListSharedBuckets(context.Context, *Empty) (*ListBucketsResponse, error)
	GetSharedBucket(context.Context, *BucketRequest) (*BucketResponse, error)
	UpdateBucket(context.Context, *UpdateBucketRequest) (*BucketResponse, error)
	DeactivateBucket(context.Context, *BucketRequest) (*Empty, error)
	RestoreBucket(context.Context, *BucketRequest) (*BucketResponse, error)
	DeleteBucket(context.Context, *BucketRequest) (*Empty, error)
	RevealPin(context.Context, *BucketRequest) (*RevealPinResponse, error)

	ResolvePin(context.Context, *ResolvePinRequest) (*BucketResponse, error)
	ListFiles(context.Context, *ListFilesRequest) (*ListFilesResponse, error)
	UploadFiles(context.Context, *UploadFilesRequest) (*UploadFilesResponse, error)
	RenameFile(context.Context, *RenameFileRequest) (*FileResponse, error)
	DeleteFile(context.Context, *FileRequest) (*Empty, error)
	DownloadFile(context.Context, *FileRequest) (*FileResponse, error)
}

// unary builds the method descriptor for one BucketsServer method.
func unary[Req, Resp any](name string, call func(BucketsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BucketsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(BucketsServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var bucketsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BucketsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateBucket", BucketsServer.CreateBucket),
		unary("GetBucket", BucketsServer.GetBucket),
		unary("ListBuckets", BucketsServer.ListBuckets),
		unary("ListSharedBuckets", BucketsServer.ListSharedBuckets),
		unary("GetSharedBucket", BucketsServer.GetSharedBucket),
		unary("UpdateBucket", BucketsServer.UpdateBucket),
		unary("DeactivateBucket", BucketsServer.DeactivateBucket),
		unary("RestoreBucket", BucketsServer.RestoreBucket),
		unary("DeleteBucket", BucketsServer.DeleteBucket),
		unary("RevealPin", BucketsServer.RevealPin),
		unary("ResolvePin", BucketsServer.ResolvePin),
		unary("ListFiles", BucketsServer.ListFiles),
		unary("UploadFiles", BucketsServer.UploadFiles),
		unary("RenameFile", BucketsServer.RenameFile),
		unary("DeleteFile", BucketsServer.DeleteFile),
		unary("DownloadFile", BucketsServer.DownloadFile),
	},
	Metadata: "pindrop/v1/buckets",
}

// RegisterBucketsServer registers srv on s.
func RegisterBucketsServer(s grpc.ServiceRegistrar, srv BucketsServer) {
	s.RegisterService(&bucketsServiceDesc, srv)
}
