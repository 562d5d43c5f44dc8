package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/courseport-backend/internal/http/handlers"
	"github.com/yungbote/courseport-backend/internal/platform/envutil"
	"github.com/yungbote/courseport-backend/internal/platform/logger"
)

type Config struct {
	JWTSecretKey   string
	AccessTokenTTL time.Duration

	// UploadRoot holds in-flight chunked uploads and extraction dirs.
	UploadRoot string
	// BlobRoot backs the local blob store when no cloud backend is set.
	BlobRoot       string
	StorageBackend string

	ServiceName string
	Environment string
	Version     string

	Delivery handlers.DeliveryConfig
}

// deliveryPolicyFile mirrors the operator-facing yaml: a default TTL, optional
// per-course overrides, and the user agent substrings that mark CDN traffic.
type deliveryPolicyFile struct {
	CacheTTL      string            `yaml:"cache_ttl"`
	CourseTTL     map[string]string `yaml:"course_ttl"`
	CDNUserAgents []string          `yaml:"cdn_user_agents"`
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		JWTSecretKey:   envutil.Str("JWT_SECRET_KEY", "defaultsecret"),
		AccessTokenTTL: envutil.Duration("ACCESS_TOKEN_TTL", time.Hour),

		UploadRoot:     envutil.Str("UPLOAD_ROOT", "/var/lib/courseport/uploads"),
		BlobRoot:       envutil.Str("BLOB_ROOT", "/var/lib/courseport/blobs"),
		StorageBackend: envutil.Str("STORAGE_BACKEND", "local"),

		ServiceName: envutil.Str("SERVICE_NAME", "courseport"),
		Environment: envutil.Str("ENVIRONMENT", "development"),
		Version:     envutil.Str("SERVICE_VERSION", "dev"),
	}

	cfg.Delivery = handlers.DeliveryConfig{
		CacheTTL: envutil.Duration("ASSET_CACHE_TTL", 0),
	}
	if path := envutil.Str("DELIVERY_POLICY_FILE", ""); path != "" {
		if err := loadDeliveryPolicy(path, &cfg.Delivery); err != nil {
			log.Warn("Failed to load delivery policy file", "path", path, "error", err)
		}
	}

	return cfg
}

func loadDeliveryPolicy(path string, out *handlers.DeliveryConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var pf deliveryPolicyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}

	if pf.CacheTTL != "" {
		ttl, err := time.ParseDuration(pf.CacheTTL)
		if err != nil {
			return fmt.Errorf("parse cache_ttl: %w", err)
		}
		out.CacheTTL = ttl
	}
	if len(pf.CourseTTL) > 0 {
		out.CourseTTL = make(map[string]time.Duration, len(pf.CourseTTL))
		for course, v := range pf.CourseTTL {
			ttl, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse course_ttl[%s]: %w", course, err)
			}
			out.CourseTTL[course] = ttl
		}
	}
	if len(pf.CDNUserAgents) > 0 {
		out.CDNUserAgents = pf.CDNUserAgents
	}
	return nil
}
