package api

import (
	"net/http"

	"github.com/graphql-go/graphql"
	gqlhandler "github.com/graphql-go/handler"

	"github.com/chainverify/verifyd/internal/jobengine"
	"github.com/chainverify/verifyd/internal/sinks"
)

// newGraphQLHandler exposes a read-only GraphQL surface over the Job
// Engine and read sink (SPEC_FULL.md §11, C11), grounded on the teacher's
// graphql-go/handler wiring in api/server.go, narrowed to the two queries
// this service needs: a job by verification id, and a SourcifyMatch by
// (chainId, address).
func newGraphQLHandler(engine *jobengine.Engine, read sinks.ReadSink) http.Handler {
	jobType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Job",
		Fields: graphql.Fields{
			"id":              &graphql.Field{Type: graphql.String},
			"chainId":         &graphql.Field{Type: graphql.String},
			"address":         &graphql.Field{Type: graphql.String},
			"status":          &graphql.Field{Type: graphql.String},
			"errorCode":       &graphql.Field{Type: graphql.String},
			"runtimeMatch":    &graphql.Field{Type: graphql.String},
			"creationMatch":   &graphql.Field{Type: graphql.String},
		},
	})

	matchType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SourcifyMatch",
		Fields: graphql.Fields{
			"verifiedContractId": &graphql.Field{Type: graphql.String},
			"runtimeMatch":        &graphql.Field{Type: graphql.String},
			"creationMatch":       &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"job": &graphql.Field{
				Type: jobType,
				Args: graphql.FieldConfigArgument{
					"verificationId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					verificationID, _ := p.Args["verificationId"].(string)
					view, err := engine.GetJob(p.Context, verificationID)
					if err != nil {
						return nil, err
					}
					result := map[string]any{
						"id":        view.Job.ID,
						"chainId":   view.Job.ChainID,
						"address":   view.Job.ContractAddress,
						"status":    string(view.Job.Status),
						"errorCode": view.Job.ErrorCode,
					}
					if view.SourcifyMatch != nil {
						result["runtimeMatch"] = string(view.SourcifyMatch.RuntimeMatch)
						result["creationMatch"] = string(view.SourcifyMatch.CreationMatch)
					}
					return result, nil
				},
			},
			"sourcifyMatch": &graphql.Field{
				Type: matchType,
				Args: graphql.FieldConfigArgument{
					"chainId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					chainID, _ := p.Args["chainId"].(string)
					address, _ := p.Args["address"].(string)
					match, err := read.GetByChainAndAddress(p.Context, chainID, address)
					if err != nil {
						return nil, err
					}
					return map[string]any{
						"verifiedContractId": match.VerifiedContractID,
						"runtimeMatch":       string(match.RuntimeMatch),
						"creationMatch":      string(match.CreationMatch),
					}, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
	if err != nil {
		// The schema is static; a construction failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}

	return gqlhandler.New(&gqlhandler.Config{
		Schema:     &schema,
		Pretty:     true,
		GraphiQL:   false,
		Playground: false,
	})
}
