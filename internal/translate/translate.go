// Package translate turns English model descriptions into Chinese, falling
// back across free translation services.
package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"llmtester/internal/cache"
)

// SegmentSize is the longest text sent in one request, in characters.
const SegmentSize = 500

var (
	// ErrRateLimited is returned when the hourly translation quota is used up.
	ErrRateLimited = errors.New("translation quota exceeded, try again later")
	ErrAllFailed   = errors.New("翻译失败：所有翻译服务暂时不可用，请稍后重试")
	ErrPartial     = errors.New("翻译失败：部分内容无法翻译")
)

type Config struct {
	// Services are tried in order. Defaults to MyMemory, LibreTranslate, Google.
	Services   []Service
	HTTPClient *http.Client
	// Pace is the minimum gap between two segments of a long text.
	Pace    time.Duration
	Cache   *cache.Cache
	Limiter Limiter
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Limiter caps uncached translations. *cache.HourlyLimiter implements it.
type Limiter interface {
	Allow(ctx context.Context, now time.Time) (bool, int64, time.Time, error)
}

type Translator struct {
	services []Service
	pace     time.Duration
	cache    *cache.Cache
	limiter  Limiter
	logger   zerolog.Logger
	now      func() time.Time
}

func New(cfg Config) *Translator {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if len(cfg.Services) == 0 {
		cfg.Services = []Service{
			&MyMemory{URL: DefaultMyMemoryURL, Client: cfg.HTTPClient},
			&LibreTranslate{URL: DefaultLibreTranslateURL, Client: cfg.HTTPClient},
			&Google{URL: DefaultGoogleURL, Client: cfg.HTTPClient},
		}
	}
	if cfg.Pace <= 0 {
		cfg.Pace = 100 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Translator{
		services: cfg.Services,
		pace:     cfg.Pace,
		cache:    cfg.Cache,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Translate returns the Chinese text. ErrAllFailed comes with an empty
// string; ErrPartial comes with the text where untranslated segments are kept
// as is.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	key := "translate:" + digest(text)
	var cached string
	if ok, err := t.cache.Get(ctx, key, &cached); err != nil {
		t.logger.Warn().Err(err).Msg("translation cache read failed")
	} else if ok {
		return cached, nil
	}

	if t.limiter != nil {
		allowed, used, _, err := t.limiter.Allow(ctx, t.now())
		if err != nil {
			t.logger.Warn().Err(err).Msg("translation rate limit check failed")
		} else if !allowed {
			t.logger.Warn().Int64("used", used).Msg("translation quota exceeded")
			return "", ErrRateLimited
		}
	}

	out, err := t.translate(ctx, text)
	if err != nil {
		return out, err
	}
	if err := t.cache.Set(ctx, key, out); err != nil {
		t.logger.Warn().Err(err).Msg("translation cache write failed")
	}
	return out, nil
}

func (t *Translator) translate(ctx context.Context, text string) (string, error) {
	segments := split(text, SegmentSize)
	if len(segments) == 1 {
		for _, svc := range t.services {
			if out, ok := t.try(ctx, svc, text); ok {
				return out, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", ErrAllFailed
	}

	// Long texts: a failing service is skipped for the remaining segments.
	limiter := rate.NewLimiter(rate.Every(t.pace), 1)
	var sb strings.Builder
	current := 0
	partial := false
	for _, seg := range segments {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
		translated, ok := "", false
		for i := current; i < len(t.services); i++ {
			if translated, ok = t.try(ctx, t.services[i], seg); ok {
				break
			}
			if i < len(t.services)-1 {
				current = i + 1
			}
		}
		if !ok {
			translated = seg
			partial = true
		}
		sb.WriteString(translated)
	}
	if partial {
		return sb.String(), ErrPartial
	}
	return sb.String(), nil
}

func (t *Translator) try(ctx context.Context, svc Service, text string) (string, bool) {
	out, err := svc.Translate(ctx, text)
	if err != nil {
		t.logger.Debug().Err(err).Str("service", svc.Name()).Msg("translation service failed")
		return "", false
	}
	return out, true
}

func split(text string, size int) []string {
	r := []rune(text)
	out := make([]string, 0, len(r)/size+1)
	for i := 0; i < len(r); i += size {
		end := min(i+size, len(r))
		out = append(out, string(r[i:end]))
	}
	return out
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
