package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/l0p7/foorest/internal/foo"
)

// ValkeyTLSConfig enables TLS to the server. CAFile, when set, replaces the
// system roots.
type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

// ValkeyConfig locates the valkey (or redis) server backing NewValkey.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
	// KeyPrefix namespaces every key so several suites can share one server.
	KeyPrefix string
}

// seedScript inserts an entity under a caller-chosen id and pushes the
// sequence past it in one round trip.
var seedScript = valkey.NewLuaScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[2])
  local current = tonumber(redis.call('GET', KEYS[3]) or '0')
  if current < tonumber(ARGV[2]) then
    redis.call('SET', KEYS[3], ARGV[2])
  end
  return 1
end
return 0
`)

type valkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkey connects to a valkey (or redis) server and pings it before
// returning.
func NewValkey(cfg ValkeyConfig) (Service, error) {
	if cfg.Address == "" {
		return nil, errors.New("store: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("store: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("store: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("store: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: valkey ping: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "foorest:"
	}
	return &valkeyStore{client: client, prefix: prefix}, nil
}

func (s *valkeyStore) entityKey(id int64) string {
	return s.prefix + "foo:" + strconv.FormatInt(id, 10)
}

func (s *valkeyStore) indexKey() string {
	return s.prefix + "foo:ids"
}

func (s *valkeyStore) sequenceKey() string {
	return s.prefix + "foo:seq"
}

func (s *valkeyStore) FindOne(ctx context.Context, id int64) (foo.Foo, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.entityKey(id)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return foo.Foo{}, false, nil
		}
		return foo.Foo{}, false, fmt.Errorf("store: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return foo.Foo{}, false, fmt.Errorf("store: valkey get bytes: %w", err)
	}
	var entity foo.Foo
	if err := json.Unmarshal(payload, &entity); err != nil {
		return foo.Foo{}, false, fmt.Errorf("store: valkey unmarshal: %w", err)
	}
	return entity, true, nil
}

func (s *valkeyStore) Create(ctx context.Context, entity foo.Foo) (foo.Foo, error) {
	if err := entity.Validate(); err != nil {
		return foo.Foo{}, err
	}
	if entity.ID < 0 {
		return foo.Foo{}, fmt.Errorf("store: invalid id %d", entity.ID)
	}
	if entity.ID != 0 {
		return s.seed(ctx, entity)
	}

	id, err := s.client.Do(ctx, s.client.B().Incr().Key(s.sequenceKey()).Build()).AsInt64()
	if err != nil {
		return foo.Foo{}, fmt.Errorf("store: valkey incr: %w", err)
	}
	entity.ID = id
	payload, err := json.Marshal(entity)
	if err != nil {
		return foo.Foo{}, fmt.Errorf("store: valkey marshal: %w", err)
	}
	member := strconv.FormatInt(id, 10)
	results := s.client.DoMulti(ctx,
		s.client.B().Set().Key(s.entityKey(id)).Value(string(payload)).Nx().Build(),
		s.client.B().Zadd().Key(s.indexKey()).ScoreMember().ScoreMember(float64(id), member).Build(),
	)
	if err := results[0].Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return foo.Foo{}, fmt.Errorf("%w: %d", ErrConflict, id)
		}
		return foo.Foo{}, fmt.Errorf("store: valkey set: %w", err)
	}
	if err := results[1].Error(); err != nil {
		return foo.Foo{}, fmt.Errorf("store: valkey index: %w", err)
	}
	return entity, nil
}

func (s *valkeyStore) seed(ctx context.Context, entity foo.Foo) (foo.Foo, error) {
	payload, err := json.Marshal(entity)
	if err != nil {
		return foo.Foo{}, fmt.Errorf("store: valkey marshal: %w", err)
	}
	keys := []string{s.entityKey(entity.ID), s.indexKey(), s.sequenceKey()}
	args := []string{string(payload), strconv.FormatInt(entity.ID, 10)}
	inserted, err := seedScript.Exec(ctx, s.client, keys, args).AsInt64()
	if err != nil {
		return foo.Foo{}, fmt.Errorf("store: valkey seed: %w", err)
	}
	if inserted == 0 {
		return foo.Foo{}, fmt.Errorf("%w: %d", ErrConflict, entity.ID)
	}
	return entity, nil
}

func (s *valkeyStore) Update(ctx context.Context, entity foo.Foo) (foo.Foo, error) {
	if err := entity.Validate(); err != nil {
		return foo.Foo{}, err
	}
	payload, err := json.Marshal(entity)
	if err != nil {
		return foo.Foo{}, fmt.Errorf("store: valkey marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(s.entityKey(entity.ID)).Value(string(payload)).Xx().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return foo.Foo{}, ErrNotFound
		}
		return foo.Foo{}, fmt.Errorf("store: valkey set: %w", err)
	}
	return entity, nil
}

func (s *valkeyStore) Delete(ctx context.Context, id int64) error {
	results := s.client.DoMulti(ctx,
		s.client.B().Del().Key(s.entityKey(id)).Build(),
		s.client.B().Zrem().Key(s.indexKey()).Member(strconv.FormatInt(id, 10)).Build(),
	)
	removed, err := results[0].AsInt64()
	if err != nil {
		return fmt.Errorf("store: valkey del: %w", err)
	}
	if err := results[1].Error(); err != nil {
		return fmt.Errorf("store: valkey unindex: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *valkeyStore) List(ctx context.Context) ([]foo.Foo, error) {
	members, err := s.client.Do(ctx, s.client.B().Zrange().Key(s.indexKey()).Min("0").Max("-1").Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("store: valkey index range: %w", err)
	}
	if len(members) == 0 {
		return []foo.Foo{}, nil
	}
	keys := make([]string, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("store: valkey index member %q: %w", member, err)
		}
		keys = append(keys, s.entityKey(id))
	}
	values, err := s.client.Do(ctx, s.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("store: valkey mget: %w", err)
	}
	out := make([]foo.Foo, 0, len(values))
	for _, value := range values {
		if value.IsNil() {
			continue
		}
		payload, err := value.ToString()
		if err != nil {
			return nil, fmt.Errorf("store: valkey mget value: %w", err)
		}
		var entity foo.Foo
		if err := json.Unmarshal([]byte(payload), &entity); err != nil {
			return nil, fmt.Errorf("store: valkey unmarshal: %w", err)
		}
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
