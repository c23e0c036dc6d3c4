package server

import (
	"time"

	"trustroom/internal/domain"
	"trustroom/internal/engine"
)

// envelope is the success body shared by every JSON endpoint.
type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type dataOutput[T any] struct {
	Body envelope[T]
}

func ok[T any](v T) *dataOutput[T] {
	return &dataOutput[T]{Body: envelope[T]{Success: true, Data: v}}
}

type caseIDInput struct {
	Body struct {
		CaseID string `json:"caseId" minLength:"1" doc:"Trust case id"`
	}
}

type casePathInput struct {
	CaseID string `path:"caseId"`
	Token  string `query:"token" required:"false" doc:"Guest token from the share link"`
}

type stepPathInput struct {
	CaseID string `path:"caseId"`
	Step   int    `path:"step" minimum:"1" maximum:"6"`
	Token  string `query:"token" required:"false" doc:"Guest token from the share link"`
}

type createCaseInput struct {
	Body struct {
		CaseName      string  `json:"caseName" minLength:"1" maxLength:"100"`
		AgentID       string  `json:"agentId,omitempty" doc:"Required for system callers"`
		AgentName     string  `json:"agentName,omitempty"`
		AgentCompany  string  `json:"agentCompany,omitempty"`
		PropertyID    *string `json:"propertyId,omitempty"`
		PropertyTitle *string `json:"propertyTitle,omitempty"`
	}
}

type listCasesInput struct {
	AgentID string `query:"agentId" required:"false"`
	Status  string `query:"status" required:"false"`
	Limit   int    `query:"limit" required:"false" minimum:"0" maximum:"100"`
	Offset  int    `query:"offset" required:"false" minimum:"0"`
}

type buyerInfoInput struct {
	Body struct {
		CaseID string `json:"caseId" minLength:"1"`
		Name   string `json:"name" minLength:"1" maxLength:"50"`
		Phone  string `json:"phone" pattern:"^09[0-9]{8}$"`
		Email  string `json:"email,omitempty" maxLength:"100"`
	}
}

type upgradeInput struct {
	Body struct {
		Token string `json:"token" minLength:"1"`
	}
}

type startCaseInput struct {
	Body struct {
		PropertyID string `json:"propertyId" pattern:"^MH-[0-9]+$" doc:"Listing id, e.g. MH-100231"`
		UserName   string `json:"userName,omitempty" maxLength:"50" doc:"Display name; an anonymous 買方-XXXXXXXX name is drawn when empty"`
	}
}

type myCasesInput struct {
	BuyerID string `query:"buyerId" required:"false" doc:"Required for system callers"`
	Limit   int    `query:"limit" required:"false" minimum:"0" maximum:"100"`
	Offset  int    `query:"offset" required:"false" minimum:"0"`
}

type myCasesResult struct {
	Cases []engine.MyCase `json:"cases"`
	Total int             `json:"total"`
}

type listResult struct {
	Cases []engine.CaseView `json:"cases"`
	Limit int               `json:"limit"`
}

type healthResult struct {
	Status             string `json:"status"`
	Store              string `json:"store"`
	SideEffectFailures int64  `json:"sideEffectFailures"`
}

func statusFilter(s string) *domain.Status {
	if s == "" {
		return nil
	}
	st := domain.Status(s)
	return &st
}

// stepResult is the progress view returned by writes. Buyer contact details
// never leave through it.
type stepResult struct {
	CaseID      string        `json:"caseId"`
	Version     int64         `json:"version"`
	Status      domain.Status `json:"status"`
	CurrentStep int           `json:"currentStep"`
	Steps       []domain.Step `json:"steps"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func stepResultFor(tc domain.TrustCase) stepResult {
	return stepResult{
		CaseID:      tc.ID,
		Version:     tc.Version,
		Status:      tc.Status,
		CurrentStep: tc.CurrentStep,
		Steps:       tc.Steps,
		UpdatedAt:   tc.UpdatedAt,
	}
}
