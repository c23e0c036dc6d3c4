package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"trustroom/internal/apperr"
	"trustroom/internal/engine"
	tel "trustroom/internal/otel"
)

const (
	defaultBasePath     = "/api/trust"
	msgMethodNotAllowed = "不支援此 HTTP 方法"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Metrics  *tel.Metrics
	Logger   *slog.Logger
	// Health reports store reachability for GET /health. Nil means the
	// store is not queried.
	Health func(context.Context) error
}

type apiErrorBody struct {
	Code    string `json:"code" example:"invalid_state_transition"`
	Message string `json:"message" example:"案件狀態不允許喚醒（必須為休眠狀態）"`
}

// apiError is the failure envelope shared by every endpoint.
type apiError struct {
	status  int
	Success bool         `json:"success"`
	Body    apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the trust room API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	if cfg.Metrics == nil {
		cfg.Metrics = tel.NoopMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	huma.DefaultArrayNullable = false
	// Every request or schema failure surfaces as the same 400 body.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return requestError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return requestError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(observeRequests(cfg.Engine, cfg.Metrics))
	router.Use(withCredentials)
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, newAPIError(http.StatusMethodNotAllowed, "method_not_allowed", msgMethodNotAllowed))
	})
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, newAPIError(http.StatusNotFound, "not_found", http.StatusText(http.StatusNotFound)))
	})

	hcfg := huma.DefaultConfig("Trust Room API", tel.Version)
	hcfg.OpenAPIPath = path.Join(basePath, "openapi")
	hcfg.DocsPath = ""
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, cfg)
	registerWake(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerSteps(group, cfg.Engine)
	registerBuyer(group, cfg.Engine)
	registerConsumer(group, cfg.Engine)
	registerLive(router, basePath, cfg)

	return router, nil
}

func newAPIError(status int, code, message string) huma.StatusError {
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message},
	}
}

func requestError(status int, msg string) huma.StatusError {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return newAPIError(http.StatusBadRequest, apperr.KindValidation.String(), apperr.MsgInvalidBody)
	case status >= http.StatusInternalServerError:
		return newAPIError(status, apperr.KindInternal.String(), apperr.MsgInternal)
	default:
		return newAPIError(status, strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_")), msg)
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return newAPIError(http.StatusInternalServerError, apperr.KindInternal.String(), apperr.MsgInternal)
	}
	msg := ae.Message
	if ae.Kind == apperr.KindInternal {
		msg = apperr.MsgInternal
	}
	return newAPIError(statusFor(ae.Kind), ae.Kind.String(), msg)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidTransition:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders the envelope for plain chi handlers.
func writeError(w http.ResponseWriter, se huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.GetStatus())
	_ = json.NewEncoder(w).Encode(se)
}

func registerHealth(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*dataOutput[healthResult], error) {
		res := healthResult{Status: "ok", Store: "ok"}
		if cfg.Engine.Effects != nil {
			res.SideEffectFailures = cfg.Engine.Effects.Failed()
		}
		if cfg.Health != nil {
			if err := cfg.Health(ctx); err != nil {
				cfg.Logger.Warn("health check failed", "error", err)
				res.Status = "degraded"
				res.Store = "unreachable"
			}
		}
		return ok(res), nil
	})
}

func registerWake(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "wake-case",
		Method:      http.MethodPost,
		Path:        "/wake",
		Summary:     "Wake a dormant trust case",
	}, func(ctx context.Context, in *caseIDInput) (*dataOutput[engine.WakeResult], error) {
		res, err := e.WakeCase(ctx, in.Body.CaseID, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(res), nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a trust case",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *createCaseInput) (*dataOutput[engine.CreatedCase], error) {
		created, err := e.CreateCase(ctx, engine.CreateCaseInput{
			CaseName:      in.Body.CaseName,
			AgentID:       in.Body.AgentID,
			AgentName:     in.Body.AgentName,
			AgentCompany:  in.Body.AgentCompany,
			PropertyID:    in.Body.PropertyID,
			PropertyTitle: in.Body.PropertyTitle,
		}, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(created), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List an agent's trust cases",
	}, func(ctx context.Context, in *listCasesInput) (*dataOutput[listResult], error) {
		views, err := e.ListCases(ctx, engine.ListInput{
			AgentID: in.AgentID,
			Status:  statusFilter(in.Status),
			Limit:   in.Limit,
			Offset:  in.Offset,
		}, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		if views == nil {
			views = []engine.CaseView{}
		}
		limit := in.Limit
		if limit == 0 {
			limit = engine.DefaultListLimit
		}
		return ok(listResult{Cases: views, Limit: limit}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{caseId}",
		Summary:     "Read a trust case as the caller sees it",
	}, func(ctx context.Context, in *casePathInput) (*dataOutput[engine.CaseView], error) {
		view, err := e.GetCase(ctx, in.CaseID, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(view), nil
	})
}

func registerSteps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "toggle-step",
		Method:      http.MethodPost,
		Path:        "/cases/{caseId}/steps/{step}/toggle",
		Summary:     "Flip the done flag of a step",
	}, func(ctx context.Context, in *stepPathInput) (*dataOutput[stepResult], error) {
		tc, err := e.ToggleStepDone(ctx, in.CaseID, in.Step, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(stepResultFor(tc)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-step",
		Method:      http.MethodPost,
		Path:        "/cases/{caseId}/steps/{step}/confirm",
		Summary:     "Confirm a step",
	}, func(ctx context.Context, in *stepPathInput) (*dataOutput[stepResult], error) {
		tc, err := e.ConfirmStep(ctx, in.CaseID, in.Step, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(stepResultFor(tc)), nil
	})
}

func registerBuyer(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-buyer-info",
		Method:      http.MethodPost,
		Path:        "/complete-buyer-info",
		Summary:     "Record the buyer's contact details",
	}, func(ctx context.Context, in *buyerInfoInput) (*dataOutput[stepResult], error) {
		tc, err := e.CompleteBuyerInfo(ctx, engine.BuyerInfoInput{
			CaseID: in.Body.CaseID,
			Name:   in.Body.Name,
			Phone:  in.Body.Phone,
			Email:  in.Body.Email,
		}, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(stepResultFor(tc)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upgrade-case",
		Method:      http.MethodPost,
		Path:        "/upgrade-case",
		Summary:     "Bind a guest case to the signed-in buyer",
	}, func(ctx context.Context, in *upgradeInput) (*dataOutput[engine.UpgradeResult], error) {
		res, err := e.UpgradeCase(ctx, in.Body.Token, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(res), nil
	})
}

func registerConsumer(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "auto-create-case",
		Method:        http.MethodPost,
		Path:          "/auto-create-case",
		Summary:       "Open a trust case on a listing from the consumer side",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, in *startCaseInput) (*dataOutput[engine.StartedCase], error) {
		started, err := e.StartCase(ctx, engine.StartCaseInput{
			PropertyID: in.Body.PropertyID,
			UserName:   in.Body.UserName,
		}, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(started), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-cases",
		Method:      http.MethodGet,
		Path:        "/my-cases",
		Summary:     "List the open cases of a buyer",
	}, func(ctx context.Context, in *myCasesInput) (*dataOutput[myCasesResult], error) {
		cases, err := e.ListMyCases(ctx, engine.MyCasesInput{
			BuyerID: in.BuyerID,
			Limit:   in.Limit,
			Offset:  in.Offset,
		}, credentialsFrom(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return ok(myCasesResult{Cases: cases, Total: len(cases)}), nil
	})
}
