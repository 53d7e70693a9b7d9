// Package versionstore keeps ordered lists of applied structure versions as
// self-bindings on a topic exchange. Each binding's routing key is the list
// identifier and its arguments carry one version record.
package versionstore

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/cuongbtq/rabbit-jobqueue/internal/domain"
	"github.com/cuongbtq/rabbit-jobqueue/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config selects the catalog exchange
type Config struct {
	Exchange string
	// VHost defaults to the connector's vhost
	VHost  string
	Logger *slog.Logger
}

// Binding is one entry of GET /api/exchanges/{vhost}/{exchange}/bindings/source
type Binding struct {
	Source          string         `json:"source"`
	Destination     string         `json:"destination"`
	DestinationType string         `json:"destination_type"`
	RoutingKey      string         `json:"routing_key"`
	Arguments       map[string]any `json:"arguments"`
}

// Store reads and writes version lists
type Store struct {
	connector rabbitmq.Connector
	exchange  string
	vhost     string
	logger    *slog.Logger
}

// New creates a Store. A blank exchange is a configuration error.
func New(connector rabbitmq.Connector, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, domain.Configurationf("version store exchange is not configured")
	}

	vhost := cfg.VHost
	if vhost == "" {
		vhost = connector.VHost()
	}
	if vhost == "" {
		vhost = rabbitmq.DefaultVHost
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		connector: connector,
		exchange:  cfg.Exchange,
		vhost:     vhost,
		logger:    logger,
	}, nil
}

// Exchange returns the catalog exchange name
func (s *Store) Exchange() string {
	return s.exchange
}

func (s *Store) bindings(ctx context.Context) ([]Binding, error) {
	endpoint := fmt.Sprintf("/api/exchanges/%s/%s/bindings/source",
		rabbitmq.EscapeSegment(s.vhost),
		rabbitmq.EscapeSegment(s.exchange),
	)

	var bindings []Binding
	if err := s.connector.GetFromAdminAPI(ctx, endpoint, &bindings); err != nil {
		return nil, fmt.Errorf("failed to fetch bindings of %s: %w", s.exchange, err)
	}

	return bindings, nil
}

// Read returns the versions stored under identifier in ascending order.
// domain.ErrNotFound is returned when nothing is stored.
func (s *Store) Read(ctx context.Context, identifier string) (StructureVersionList, error) {
	if err := domain.RequireName("identifier", identifier); err != nil {
		return StructureVersionList{}, err
	}

	bindings, err := s.bindings(ctx)
	if err != nil {
		return StructureVersionList{}, err
	}

	var versions []StructureVersion
	for _, b := range bindings {
		if b.RoutingKey != identifier {
			continue
		}
		v, err := DecodeArguments(b.Arguments)
		if err != nil {
			return StructureVersionList{}, fmt.Errorf("failed to decode version binding of %s: %w", identifier, err)
		}
		versions = append(versions, v)
	}

	if len(versions) == 0 {
		return StructureVersionList{}, fmt.Errorf("%w: no versions recorded for %s", domain.ErrNotFound, identifier)
	}

	return NewList(identifier, versions...), nil
}

// ReadAll returns one list per identifier, ordered by identifier
func (s *Store) ReadAll(ctx context.Context) ([]StructureVersionList, error) {
	bindings, err := s.bindings(ctx)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]StructureVersion)
	for _, b := range bindings {
		v, err := DecodeArguments(b.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to decode version binding of %s: %w", b.RoutingKey, err)
		}
		grouped[b.RoutingKey] = append(grouped[b.RoutingKey], v)
	}

	lists := make([]StructureVersionList, 0, len(grouped))
	for _, identifier := range slices.Sorted(maps.Keys(grouped)) {
		lists = append(lists, NewList(identifier, grouped[identifier]...))
	}

	return lists, nil
}

// Write replaces everything stored under list.Identifier with list.Versions.
// Writing the same list twice leaves the same bindings in place.
func (s *Store) Write(ctx context.Context, list StructureVersionList) error {
	if err := list.Validate(); err != nil {
		return err
	}

	bindings, err := s.bindings(ctx)
	if err != nil {
		return err
	}

	// stale bindings first, then the encodings about to be rebound
	var unbind []amqp.Table
	seen := make(map[string]struct{})
	add := func(args amqp.Table) {
		key := argumentsKey(args)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		unbind = append(unbind, args)
	}
	for _, b := range bindings {
		if b.RoutingKey == list.Identifier {
			add(tableFromAPI(b.Arguments))
		}
	}
	for _, v := range list.Versions {
		add(EncodeArguments(v))
	}

	ch, err := s.connector.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil {
			s.logger.Warn("Failed to close version store channel",
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	for _, args := range unbind {
		if err := s.unbind(ch, list.Identifier, args); err != nil {
			return err
		}
	}

	for _, v := range list.Versions {
		err := ch.ExchangeBind(
			s.exchange,         // destination
			list.Identifier,    // routing key
			s.exchange,         // source
			false,              // no-wait
			EncodeArguments(v), // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind version %d of %s: %w", v.Version, list.Identifier, err)
		}
	}

	s.logger.Info("Version list written",
		slog.String("exchange", s.exchange),
		slog.String("identifier", list.Identifier),
		slog.Int("versions", len(list.Versions)),
		slog.Int("unbound", len(unbind)),
	)

	return nil
}

// Delete removes the single binding stored under identifier with arguments
func (s *Store) Delete(ctx context.Context, identifier string, arguments amqp.Table) error {
	if err := domain.RequireName("identifier", identifier); err != nil {
		return err
	}

	ch, err := s.connector.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil {
			s.logger.Warn("Failed to close version store channel",
				slog.String("error", closeErr.Error()),
			)
		}
	}()

	return s.unbind(ch, identifier, arguments)
}

func (s *Store) unbind(ch rabbitmq.Channel, identifier string, args amqp.Table) error {
	err := ch.ExchangeUnbind(
		s.exchange, // destination
		identifier, // routing key
		s.exchange, // source
		false,      // no-wait
		args,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to unbind version of %s: %w", identifier, err)
	}
	return nil
}
