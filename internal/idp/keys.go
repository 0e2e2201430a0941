package idp

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrProviderUnavailable indica que el endpoint de certificados del
	// proveedor no respondió o respondió mal.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrUnknownKey indica un kid que no figura en el set de certificados.
	ErrUnknownKey = errors.New("unknown signing key")
)

const defaultCertTTL = time.Hour

// CertCache guarda el mapa kid→certificado PEM del proveedor.
type CertCache interface {
	Get(ctx context.Context) (map[string]string, bool)
	Set(ctx context.Context, certs map[string]string, ttl time.Duration)
}

type memoryCertCache struct {
	mu        sync.Mutex
	certs     map[string]string
	expiresAt time.Time
}

// NewMemoryCertCache crea un cache de certificados en memoria.
func NewMemoryCertCache() CertCache {
	return &memoryCertCache{}
}

func (c *memoryCertCache) Get(_ context.Context) (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.certs == nil || time.Now().UTC().After(c.expiresAt) {
		return nil, false
	}
	return c.certs, true
}

func (c *memoryCertCache) Set(_ context.Context, certs map[string]string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.certs = certs
	c.expiresAt = time.Now().UTC().Add(ttl)
}

type redisCertCache struct {
	client *redis.Client
	key    string
}

// NewRedisCertCache crea un cache de certificados compartido entre réplicas.
func NewRedisCertCache(client *redis.Client) CertCache {
	if client == nil {
		return nil
	}
	return &redisCertCache{client: client, key: "idp:certs"}
}

func (c *redisCertCache) Get(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		return nil, false
	}
	var certs map[string]string
	if err := json.Unmarshal(raw, &certs); err != nil {
		return nil, false
	}
	return certs, true
}

func (c *redisCertCache) Set(ctx context.Context, certs map[string]string, ttl time.Duration) {
	raw, err := json.Marshal(certs)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	c.client.Set(ctx, c.key, raw, ttl)
}

// KeySource obtiene las claves públicas de firma del proveedor de identidad.
// El proveedor publica un JSON kid→certificado x509 en PEM; el set se cachea
// hasta el deadline que indique Cache-Control.
type KeySource struct {
	certsURL string
	client   *http.Client
	cache    CertCache
}

// NewKeySource crea un KeySource contra el endpoint de certificados dado.
func NewKeySource(certsURL string, cache CertCache) *KeySource {
	if cache == nil {
		cache = NewMemoryCertCache()
	}
	return &KeySource{
		certsURL: certsURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		cache:    cache,
	}
}

// Key devuelve la clave RSA pública para el kid dado.
func (s *KeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	certs, ok := s.cache.Get(ctx)
	if !ok {
		var err error
		certs, err = s.fetch(ctx)
		if err != nil {
			return nil, err
		}
	}

	pemCert, ok := certs[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return parseCertKey(pemCert)
}

// Healthy verifica que el endpoint de certificados sea alcanzable. Un set
// cacheado vigente cuenta como sano.
func (s *KeySource) Healthy(ctx context.Context) error {
	if _, ok := s.cache.Get(ctx); ok {
		return nil
	}
	_, err := s.fetch(ctx)
	return err
}

func (s *KeySource) fetch(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.certsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: certs endpoint returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	s.cache.Set(ctx, certs, certTTL(resp.Header.Get("Cache-Control")))
	return certs, nil
}

func parseCertKey(pemCert string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemCert))
	if block == nil {
		return nil, ErrUnknownKey
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, ErrUnknownKey
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

func certTTL(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return defaultCertTTL
}
