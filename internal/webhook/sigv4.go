package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/innovatingdev/mail2hooks/internal/hook"
)

// sigV4Signer signs requests to AWS-hosted webhook targets such as API
// Gateway endpoints or Lambda function URLs using IAM auth.
type sigV4Signer struct {
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	region  string
	service string
	now     func() time.Time
}

func newSigV4Signer(ctx context.Context, cfg *hook.AWSSigning) (*sigV4Signer, error) {
	var provider aws.CredentialsProvider

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		provider = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		provider = awsCfg.Credentials
	}

	return &sigV4Signer{
		creds:   provider,
		signer:  v4.NewSigner(),
		region:  cfg.Region,
		service: cfg.Service,
		now:     time.Now,
	}, nil
}

// sign adds the SigV4 Authorization and X-Amz-* headers to req.
func (s *sigV4Signer) sign(ctx context.Context, req *http.Request, body string) error {
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	sum := sha256.Sum256([]byte(body))
	if err := s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), s.service, s.region, s.now()); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}
