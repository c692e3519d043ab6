package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parkgate-io/authcore/storage"
)

const (
	// clientIPTrackingTTL is the TTL for client IP tracking keys (24 hours)
	clientIPTrackingTTL = 24 * time.Hour

	// dummySecretHash is a pre-computed bcrypt hash compared against when the
	// client does not exist, so secret validation costs the same either way.
	dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// clientJSON is the stored representation of a registered client
type clientJSON struct {
	ClientID                string   `json:"client_id"`
	ClientSecretHash        string   `json:"client_secret_hash,omitempty"`
	ClientType              string   `json:"client_type"`
	OwnerUserID             string   `json:"owner_user_id,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	Scopes                  []string `json:"scopes,omitempty"`
	CreatedAt               int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:                client.ClientID,
		ClientSecretHash:        client.ClientSecretHash,
		ClientType:              client.ClientType,
		OwnerUserID:             client.OwnerUserID,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		ClientURI:               client.ClientURI,
		Scopes:                  client.Scopes,
		CreatedAt:               client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:                j.ClientID,
		ClientSecretHash:        j.ClientSecretHash,
		ClientType:              j.ClientType,
		OwnerUserID:             j.OwnerUserID,
		RedirectURIs:            j.RedirectURIs,
		TokenEndpointAuthMethod: j.TokenEndpointAuthMethod,
		GrantTypes:              j.GrantTypes,
		ResponseTypes:           j.ResponseTypes,
		ClientName:              j.ClientName,
		ClientURI:               j.ClientURI,
		Scopes:                  j.Scopes,
		CreatedAt:               time.Unix(j.CreatedAt, 0),
	}
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return wrapUnavailable("save client", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	key := s.clientKey(clientID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, wrapUnavailable("get client", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return fromClientJSON(&j), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison runs on every call, against a dummy hash when the
// client is unknown, so response time does not reveal client existence.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummySecretHash
	isPublicClient := false
	if err == nil {
		if client.TokenEndpointAuthMethod == "none" {
			isPublicClient = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil {
		return fmt.Errorf("%w: invalid client credentials", storage.ErrInvalidSecret)
	}

	// A public client authenticates with an empty secret only; presenting a
	// non-empty secret against an empty stored secret never succeeds.
	if isPublicClient {
		if clientSecret == "" {
			return nil
		}
		return fmt.Errorf("%w: invalid client credentials", storage.ErrInvalidSecret)
	}

	if clientSecret == "" || bcryptErr != nil {
		return fmt.Errorf("%w: invalid client credentials", storage.ErrInvalidSecret)
	}

	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	pattern := s.clientKey("*")
	ipKeyPrefix := s.clientIPKey("")

	// SCAN can return duplicates across iterations; deduplicate by key
	clientMap := make(map[string]*storage.Client)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, wrapUnavailable("scan clients", err)
		}

		for _, key := range result.Elements {
			// The pattern also matches the IP tracking keys
			if strings.HasPrefix(key, ipKeyPrefix) {
				continue
			}
			if _, exists := clientMap[key]; exists {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue // Deleted between SCAN and GET
				}
				return nil, wrapUnavailable("get client", err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Failed to unmarshal client, skipping",
					"key", key,
					"error", err)
				continue
			}

			clientMap[key] = fromClientJSON(&j)
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	clients := make([]*storage.Client, 0, len(clientMap))
	for _, c := range clientMap {
		clients = append(clients, c)
	}

	return clients, nil
}

// CheckIPLimit checks if an IP has reached the client registration limit
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 || ip == "" {
		return nil // No limit, or no address to attribute
	}

	key := s.clientIPKey(ip)

	countStr, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil // No registrations yet for this IP
		}
		return wrapUnavailable("check IP limit", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return nil
	}

	if count >= maxClientsPerIP {
		s.logger.Warn("Client registration limit reached",
			"ip", ip,
			"current_count", count,
			"max_allowed", maxClientsPerIP)
		return fmt.Errorf("%w: %s (%d/%d clients)", storage.ErrIPLimitReached, ip, count, maxClientsPerIP)
	}

	return nil
}

// TrackClientIP increments the registration count for an IP address.
// The count resets daily via TTL.
func (s *Store) TrackClientIP(ip string) {
	if ip == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	key := s.clientIPKey(ip)

	if _, err := s.client.Do(ctx, s.client.B().Incr().Key(key).Build()).AsInt64(); err != nil {
		s.logger.Warn("Failed to track client IP", "ip", ip, "error", err)
		return
	}

	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(key).Seconds(int64(clientIPTrackingTTL.Seconds())).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to set TTL on client IP tracking key",
			"ip", ip,
			"error", err)
	}
}
