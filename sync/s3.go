package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/sandeepkandula/poosh/config"
	"github.com/sandeepkandula/poosh/file"
)

// user metadata keys owned by poosh; everything else in the metadata map is a
// custom header
const (
	metaMD5 = "poosh-md5"
	metaACL = "poosh-acl"
)

const (
	defaultACL          = string(types.ObjectCannedACLPrivate)
	defaultStorageClass = string(types.StorageClassStandard)
)

// S3API is the part of the S3 client the destination uses.
type S3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Destination deploys to a bucket, optionally under a key prefix.
//
// Content is compared through the md5 stored as user metadata (falling back to
// a single part ETag), headers through the object's HTTP metadata and remote
// options through the storage class and the stored ACL.
type S3Destination struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	defaults file.RemoteOptions
	deletes  *DeleteBuffer
}

// NewS3Destination creates an S3Destination. defaults fill the remote options
// a file does not set.
func NewS3Destination(client S3API, bucket, prefix string, defaults file.RemoteOptions) *S3Destination {
	d := &S3Destination{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		defaults: defaults,
	}
	d.deletes = NewDeleteBuffer(DefaultDeleteBatch, d.deleteObjects)
	return d
}

// NewS3DestinationFromConfig builds the client from the remote section of the
// options. Static credentials are used when both keys are set, the default
// credential chain otherwise.
func NewS3DestinationFromConfig(ctx context.Context, cfg config.RemoteConfig) (*S3Destination, error) {
	if cfg.Bucket == "" {
		return nil, &config.Error{Field: "remote.bucket", Msg: "required by the s3 plugin"}
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.Timeout > 0 {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(
			awshttp.NewBuildableClient().WithTimeout(cfg.Timeout),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewS3Destination(client, cfg.Bucket, cfg.BasePath, file.RemoteOptions{
		ACL:          cfg.ACL,
		StorageClass: cfg.StorageClass,
	}), nil
}

func (d *S3Destination) fullKey(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if d.prefix == "" {
		return rel
	}
	return d.prefix + "/" + rel
}

func (d *S3Destination) relKey(full string) string {
	if d.prefix == "" {
		return full
	}
	return strings.TrimPrefix(full, d.prefix+"/")
}

func (d *S3Destination) BaseDestination() string {
	if d.prefix == "" {
		return "s3://" + d.bucket
	}
	return "s3://" + d.bucket + "/" + d.prefix
}

// Rough is false: S3 reports every facet separately.
func (d *S3Destination) Rough() bool { return false }

func (d *S3Destination) NormalizeFileRemoteOptions(opts file.RemoteOptions) (file.RemoteOptions, error) {
	out := opts
	if out.ACL == "" {
		out.ACL = firstNonEmpty(d.defaults.ACL, defaultACL)
	}
	if out.StorageClass == "" {
		out.StorageClass = firstNonEmpty(d.defaults.StorageClass, defaultStorageClass)
	}

	if !slices.Contains(types.ObjectCannedACL("").Values(), types.ObjectCannedACL(out.ACL)) {
		return opts, &config.Error{Field: "remote.acl", Value: out.ACL, Msg: "unknown canned ACL"}
	}
	if !slices.Contains(types.StorageClass("").Values(), types.StorageClass(out.StorageClass)) {
		return opts, &config.Error{Field: "remote.storageClass", Value: out.StorageClass, Msg: "unknown storage class"}
	}
	return out, nil
}

func (d *S3Destination) Status(ctx context.Context, f *file.File) (file.RemoteStatus, file.StatusDetails, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.fullKey(f.Key())),
	})
	if err != nil {
		if isNotFound(err) {
			return file.Missing, file.Uniform(file.Missing), nil
		}
		return 0, file.StatusDetails{}, &RemoteError{Op: "status", Key: f.Key(), Err: err}
	}

	details := file.StatusDetails{
		Content: d.compareContent(f, out),
		Headers: sameIf(headersOf(out).Fingerprint() == publishedHeaders(f.Headers).Fingerprint()),
		Remote:  d.compareRemote(f, out),
	}
	return details.Overall(), details, nil
}

func (d *S3Destination) compareContent(f *file.File, out *s3.HeadObjectOutput) file.RemoteStatus {
	if f.Content == nil {
		return file.Different
	}
	if sum, ok := out.Metadata[metaMD5]; ok {
		return sameIf(sum == f.Content.MD5)
	}
	// multipart ETags are not an md5 of the body
	etag := strings.Trim(aws.ToString(out.ETag), `"`)
	if etag == "" || strings.Contains(etag, "-") {
		return file.Different
	}
	return sameIf(etag == f.Content.MD5 && aws.ToInt64(out.ContentLength) == f.Content.Size)
}

func (d *S3Destination) compareRemote(f *file.File, out *s3.HeadObjectOutput) file.RemoteStatus {
	want, err := d.NormalizeFileRemoteOptions(remoteOrZero(f.Remote))
	if err != nil {
		return file.Different
	}
	class := firstNonEmpty(string(out.StorageClass), defaultStorageClass)
	acl := firstNonEmpty(out.Metadata[metaACL], defaultACL)
	return sameIf(class == want.StorageClass && acl == want.ACL)
}

func (d *S3Destination) Upload(ctx context.Context, f *file.File) error {
	if f.Content == nil {
		return &RemoteError{Op: "upload", Key: f.Key(), Err: fmt.Errorf("%w: file has no content", ErrInternal)}
	}
	remote := remoteOrZero(f.Remote)
	meta := metadataOf(f)
	key := d.fullKey(f.Key())

	if f.StatusDetails != nil && f.StatusDetails.Content == file.Same {
		_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:                  aws.String(d.bucket),
			Key:                     aws.String(key),
			CopySource:              aws.String(url.PathEscape(d.bucket + "/" + key)),
			MetadataDirective:       types.MetadataDirectiveReplace,
			Metadata:                meta,
			ACL:                     types.ObjectCannedACL(remote.ACL),
			StorageClass:            types.StorageClass(remote.StorageClass),
			ContentType:             optional(f.Headers.Get("Content-Type")),
			CacheControl:            optional(f.Headers.Get("Cache-Control")),
			ContentEncoding:         optional(f.Headers.Get("Content-Encoding")),
			ContentDisposition:      optional(f.Headers.Get("Content-Disposition")),
			ContentLanguage:         optional(f.Headers.Get("Content-Language")),
			WebsiteRedirectLocation: optional(redirectOf(f.Headers)),
		})
		if err != nil {
			return &RemoteError{Op: "copy", Key: f.Key(), Err: err}
		}
		return nil
	}

	_, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:                  aws.String(d.bucket),
		Key:                     aws.String(key),
		Body:                    bytes.NewReader(f.Content.Data),
		Metadata:                meta,
		ACL:                     types.ObjectCannedACL(remote.ACL),
		StorageClass:            types.StorageClass(remote.StorageClass),
		ContentType:             optional(f.Headers.Get("Content-Type")),
		CacheControl:            optional(f.Headers.Get("Cache-Control")),
		ContentEncoding:         optional(f.Headers.Get("Content-Encoding")),
		ContentDisposition:      optional(f.Headers.Get("Content-Disposition")),
		ContentLanguage:         optional(f.Headers.Get("Content-Language")),
		WebsiteRedirectLocation: optional(redirectOf(f.Headers)),
	})
	if err != nil {
		return &RemoteError{Op: "upload", Key: f.Key(), Err: err}
	}
	return nil
}

func (d *S3Destination) List(ctx context.Context, fn func(*file.File) bool) error {
	prefix := d.prefix
	if prefix != "" {
		prefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(prefix),
	})

	base := d.BaseDestination()
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return &RemoteError{Op: "list", Err: err}
		}
		for _, obj := range page.Contents {
			full := aws.ToString(obj.Key)
			if strings.HasSuffix(full, "/") {
				continue // folder placeholder
			}
			f := &file.File{
				Dest: file.NewDest(base, d.relKey(full)),
				Content: &file.Content{
					Type: file.Raw,
					Size: aws.ToInt64(obj.Size),
					MD5:  strings.Trim(aws.ToString(obj.ETag), `"`),
				},
				Remote: &file.RemoteOptions{StorageClass: string(obj.StorageClass)},
				State:  file.Pending,
			}
			if obj.LastModified != nil {
				f.Src = &file.Source{Size: f.Content.Size, ModTime: *obj.LastModified}
			}
			if !fn(f) {
				return nil
			}
		}
	}
	return nil
}

func (d *S3Destination) PushDelete(ctx context.Context, f *file.File) ([]*file.File, error) {
	return d.deletes.Push(ctx, f)
}

func (d *S3Destination) FlushDelete(ctx context.Context) ([]*file.File, error) {
	return d.deletes.Flush(ctx)
}

func (d *S3Destination) deleteObjects(ctx context.Context, batch []*file.File) error {
	objects := make([]types.ObjectIdentifier, 0, len(batch))
	for _, f := range batch {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(d.fullKey(f.Key()))})
	}

	out, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(d.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return &RemoteError{Op: "delete", Err: err}
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return &RemoteError{
			Op:  "delete",
			Key: d.relKey(aws.ToString(first.Key)),
			Err: fmt.Errorf("%s: %s (%d of %d objects failed)",
				aws.ToString(first.Code), aws.ToString(first.Message), len(out.Errors), len(batch)),
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// headersOf rebuilds the headers an object was published with.
func headersOf(out *s3.HeadObjectOutput) file.Headers {
	var h file.Headers
	h = h.Set("Content-Type", aws.ToString(out.ContentType))
	h = h.Set("Cache-Control", aws.ToString(out.CacheControl))
	h = h.Set("Content-Encoding", aws.ToString(out.ContentEncoding))
	h = h.Set("Content-Disposition", aws.ToString(out.ContentDisposition))
	h = h.Set("Content-Language", aws.ToString(out.ContentLanguage))
	h = h.Set("Location", aws.ToString(out.WebsiteRedirectLocation))
	for k, v := range out.Metadata {
		if !reserved(k) {
			h = h.Set(k, v)
		}
	}
	return h
}

// reserved reports whether a metadata name holds a fingerprint written by
// the adapter itself.
func reserved(name string) bool {
	name = strings.ToLower(name)
	return name == metaMD5 || name == metaACL
}

// s3Fields are the headers S3 stores as object properties. Any other header
// travels as user metadata.
var s3Fields = []string{
	"Content-Type", "Cache-Control", "Content-Encoding", "Content-Disposition",
	"Content-Language", "Location", "Website-Redirect-Location",
}

func metadataOf(f *file.File) map[string]string {
	meta := map[string]string{
		metaMD5: f.Content.MD5,
		metaACL: remoteOrZero(f.Remote).ACL,
	}
	for _, h := range f.Headers {
		if !slices.Contains(s3Fields, h.Name) && !reserved(h.Name) {
			meta[strings.ToLower(h.Name)] = h.Value
		}
	}
	return meta
}

// publishedHeaders folds the redirect aliases into Location, the name
// headersOf reports it under.
func publishedHeaders(h file.Headers) file.Headers {
	out := slices.DeleteFunc(slices.Clone(h), func(e file.Header) bool { return reserved(e.Name) })
	if loc := out.Get("Website-Redirect-Location"); loc != "" {
		out = out.Set("Website-Redirect-Location", "")
		if out.Get("Location") == "" {
			out = out.Set("Location", loc)
		}
	}
	return out
}

func redirectOf(h file.Headers) string {
	if loc := h.Get("Location"); loc != "" {
		return loc
	}
	return h.Get("Website-Redirect-Location")
}

func remoteOrZero(o *file.RemoteOptions) file.RemoteOptions {
	if o == nil {
		return file.RemoteOptions{}
	}
	return *o
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

func sameIf(ok bool) file.RemoteStatus {
	if ok {
		return file.Same
	}
	return file.Different
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Destination = (*S3Destination)(nil)
