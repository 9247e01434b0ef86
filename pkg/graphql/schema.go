// Package graphql exposes point-in-time network queries over GraphQL.
package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dd0wney/roadnet/pkg/auth"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/service"
	"github.com/dd0wney/roadnet/pkg/timequery"
	"github.com/graphql-go/graphql"
)

// Backend answers the queries behind the schema. *service.Service
// implements it.
type Backend interface {
	Query(ctx context.Context, customerID int64, name string, instant *time.Time) (*service.NetworkView, error)
	History(ctx context.Context, customerID int64, name string) ([]roadnet.VersionRecord, error)
}

// NewSchema builds the schema over backend. Every resolver reads the calling
// customer from the request context.
func NewSchema(backend Backend, limits *LimitConfig) (graphql.Schema, error) {
	if limits == nil {
		limits = DefaultLimitConfig()
	}
	if err := ValidateLimitConfig(limits); err != nil {
		return graphql.Schema{}, err
	}

	versionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Version",
		Fields: graphql.Fields{
			"version": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(roadnet.VersionRecord).Label, nil
				},
			},
			"registeredAt": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTime(p.Source.(roadnet.VersionRecord).RegisteredAt), nil
				},
			},
		},
	})

	intervalType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Interval",
		Fields: graphql.Fields{
			"validFrom": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTime(p.Source.(roadnet.Interval).From), nil
				},
			},
			"validTo": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTimePtr(p.Source.(roadnet.Interval).To), nil
				},
			},
		},
	})

	edgeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Edge",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return strconv.FormatInt(p.Source.(*roadnet.Edge).ID, 10), nil
				},
			},
			// Properties are free-form, so they travel as a JSON object string.
			"properties": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					props := p.Source.(*roadnet.Edge).Properties
					if props == nil {
						props = roadnet.Properties{}
					}
					data, err := json.Marshal(props)
					if err != nil {
						return nil, fmt.Errorf("failed to encode properties: %w", err)
					}
					return string(data), nil
				},
			},
			"coordinates": &graphql.Field{
				Type: graphql.NewList(graphql.NewList(graphql.Float)),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					ls := p.Source.(*roadnet.Edge).Geometry
					coords := make([][]float64, len(ls))
					for i, pt := range ls {
						coords[i] = []float64{pt[0], pt[1]}
					}
					return coords, nil
				},
			},
			"validFrom": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTime(p.Source.(*roadnet.Edge).ValidFrom()), nil
				},
			},
			"validTo": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTimePtr(p.Source.(*roadnet.Edge).ValidTo()), nil
				},
			},
			"intervals": &graphql.Field{
				Type: graphql.NewList(intervalType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(*roadnet.Edge).Intervals, nil
				},
			},
		},
	})

	networkType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Network",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return strconv.FormatInt(p.Source.(*service.NetworkView).Network.ID, 10), nil
				},
			},
			"name": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(*service.NetworkView).Network.Name, nil
				},
			},
			"version": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.String),
				Description: "Current version label of the network",
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(*service.NetworkView).Network.Version, nil
				},
			},
			"updatedAt": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTime(p.Source.(*service.NetworkView).Network.UpdatedAt), nil
				},
			},
			"at": &graphql.Field{
				Type:        graphql.String,
				Description: "Queried instant, null for the current graph",
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return formatTimePtr(p.Source.(*service.NetworkView).Edges.Instant), nil
				},
			},
			"edgeCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(*service.NetworkView).Edges.Len(), nil
				},
			},
			"edges": &graphql.Field{
				Type: graphql.NewList(edgeType),
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{
						Type:         graphql.Int,
						DefaultValue: -1,
					},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					edges := p.Source.(*service.NetworkView).Edges.Edges
					limit := -1
					if l, ok := p.Args["limit"].(int); ok {
						limit = l
					}
					n := applyLimit(limit, len(edges), limits)
					return edges[:n], nil
				},
			},
			"versions": &graphql.Field{
				Type: graphql.NewList(versionType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					customer, err := customerFrom(p.Context)
					if err != nil {
						return nil, err
					}
					view := p.Source.(*service.NetworkView)
					versions, err := backend.History(p.Context, customer.ID, view.Network.Name)
					if err != nil {
						return nil, wrapError(err)
					}
					return versions, nil
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"health": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return "ok", nil
				},
			},
			"network": &graphql.Field{
				Type:        networkType,
				Description: "The network as of at (RFC 3339), or as it is now",
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"at":   &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					customer, err := customerFrom(p.Context)
					if err != nil {
						return nil, err
					}
					name, _ := p.Args["name"].(string)
					instant, err := parseInstant(p.Args["at"])
					if err != nil {
						return nil, err
					}
					view, err := backend.Query(p.Context, customer.ID, name, instant)
					if err != nil {
						return nil, wrapError(err)
					}
					return view, nil
				},
			},
			"versions": &graphql.Field{
				Type: graphql.NewList(versionType),
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					customer, err := customerFrom(p.Context)
					if err != nil {
						return nil, err
					}
					name, _ := p.Args["name"].(string)
					versions, err := backend.History(p.Context, customer.ID, name)
					if err != nil {
						return nil, wrapError(err)
					}
					return versions, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create schema: %w", err)
	}
	return schema, nil
}

func customerFrom(ctx context.Context) (*roadnet.Customer, error) {
	if ctx == nil {
		return nil, wrapError(roadnet.ErrUnauthorized)
	}
	c, ok := auth.CustomerFromContext(ctx)
	if !ok {
		return nil, wrapError(roadnet.ErrUnauthorized)
	}
	return c, nil
}

func parseInstant(arg any) (*time.Time, error) {
	s, ok := arg.(string)
	if !ok || s == "" {
		return nil, nil
	}
	t, err := timequery.ParseInstant(s)
	if err != nil {
		return nil, wrapError(roadnet.NewError("query", roadnet.ErrInvalidRequest).
			Detail("at must be an ISO 8601 timestamp").Cause(err).Err())
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
