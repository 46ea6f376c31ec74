package pinning

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/bigkaa/provenance/internal/domain/failure"
)

// cidMetadataKey — пользовательские метаданные объекта, в которых Filebase возвращает CID.
const cidMetadataKey = "cid"

// authErrorCodes — коды S3, означающие неверные учётные данные.
var authErrorCodes = map[string]bool{
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"AccessDenied":          true,
	"InvalidToken":          true,
}

// objectAPI — используемая часть клиента S3.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Filebase — закрепление через S3-совместимый API Filebase:
// объект в IPFS-бакете закрепляется автоматически, CID приходит в метаданных.
type Filebase struct {
	client   objectAPI
	bucket   string
	endpoint string
}

// FilebaseConfig — параметры подключения.
type FilebaseConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// NewFilebase создаёт клиент Filebase.
func NewFilebase(ctx context.Context, cfg FilebaseConfig) (*Filebase, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfiguration, err, "ошибка конфигурации S3")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &Filebase{client: client, bucket: cfg.Bucket, endpoint: cfg.Endpoint}, nil
}

// Backend реализует Uploader.
func (f *Filebase) Backend() string { return "filebase" }

// Endpoint реализует Uploader.
func (f *Filebase) Endpoint() string { return f.endpoint }

// Pin реализует Uploader. Ключ объекта — хэш файла с исходным расширением,
// поэтому одинаковое содержимое попадает в один объект.
func (f *Filebase) Pin(ctx context.Context, r Request) (string, error) {
	key := objectKey(r)
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(key),
		Body:          r.Content,
		ContentLength: aws.Int64(r.Size),
	})
	if err != nil {
		return "", s3Error(err, "PutObject")
	}

	head, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", s3Error(err, "HeadObject")
	}
	return ValidateCID(head.Metadata[cidMetadataKey])
}

// s3Error переводит ошибку S3 в таксономию.
func s3Error(err error, op string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return failure.Wrap(failure.KindAuthentication, err, "filebase отклонил учётные данные")
	}
	return failure.Wrap(failure.KindUploadFailed, err, "filebase %s", op)
}

// objectKey — {sha256}{ext}.
func objectKey(r Request) string {
	return r.FileHash + strings.ToLower(path.Ext(r.Name))
}
