package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/itemstore/store"
)

// Path parameters read by Items.
const (
	KeyParam     = "key"
	SortKeyParam = "sort_key"
)

// ItemRequest is the JSON body accepted by PUT and PATCH.
type ItemRequest struct {
	Type          string         `json:"type"`
	Details       map[string]any `json:"details"`
	Attributes    map[string]any `json:"attributes"`
	UpdateAllowed bool           `json:"update_allowed"`

	// Values are the attributes replaced by PATCH.
	Values map[string]any `json:"values"`
}

// Items returns a handler exposing get, put, update and delete of single
// items of table over API Gateway. PUT answers 201 when it creates the item
// and 200 when update_allowed replaced an existing one.
func Items(s *store.Store, table store.Table) Func {
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		key := store.Key{
			Partition: req.PathParameters[KeyParam],
			Sort:      req.PathParameters[SortKeyParam],
		}

		switch req.HTTPMethod {
		case http.MethodGet:
			item, err := s.GetRequired(ctx, table, key)
			if err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			return JSON(http.StatusOK, item.Map())

		case http.MethodPut:
			var body ItemRequest
			if err := decode(req, &body); err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			created, err := s.Save(ctx, table, store.PutInput{
				Key:           key,
				Type:          body.Type,
				Details:       body.Details,
				Attributes:    body.Attributes,
				UpdateAllowed: body.UpdateAllowed,
			})
			if err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			status := http.StatusOK
			if created {
				status = http.StatusCreated
			}
			return JSON(status, map[string]string{"key": key.String()})

		case http.MethodPatch:
			var body ItemRequest
			if err := decode(req, &body); err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			result, err := s.Update(ctx, table, key, store.UpdateInput{
				Values:       body.Values,
				ReturnValues: store.ReturnAllNew,
			})
			if err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			return JSON(http.StatusOK, result.Attributes)

		case http.MethodDelete:
			if err := s.Delete(ctx, table, key); err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			return response(http.StatusNoContent, nil), nil
		}

		return JSON(http.StatusMethodNotAllowed, map[string]string{
			"error": fmt.Sprintf("method %s not supported", req.HTTPMethod),
		})
	}
}

func decode(req events.APIGatewayProxyRequest, v any) error {
	if err := json.Unmarshal([]byte(req.Body), v); err != nil {
		return &store.Error{
			Kind:    store.KindValidation,
			Op:      "decode",
			Message: "request body is not valid JSON",
			Details: map[string]any{"http_method": req.HTTPMethod},
			Err:     err,
		}
	}
	return nil
}
