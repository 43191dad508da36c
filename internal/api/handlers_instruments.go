package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/app"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/shopspring/decimal"
)

// instrumentRequest is the create and update body for every instrument kind.
// Fields that do not apply to the kind being written are rejected.
type instrumentRequest struct {
	Name           *string          `json:"name"`
	AccountName    *string          `json:"accountName"`
	CardName       *string          `json:"cardName"`
	Currency       *string          `json:"currency"`
	InitialBalance *decimal.Decimal `json:"initialBalance"`
	Balance        *decimal.Decimal `json:"balance"`
	CreditLimit    *decimal.Decimal `json:"creditLimit"`
	Principal      *decimal.Decimal `json:"principal"`
	CurrentDebt    *decimal.Decimal `json:"currentDebt"`
	InterestRate   *decimal.Decimal `json:"interestRate"`
	TermMonths     *int             `json:"termMonths"`
}

func (req instrumentRequest) name() *string {
	for _, n := range []*string{req.Name, req.AccountName, req.CardName} {
		if n != nil {
			return n
		}
	}
	return nil
}

// limit returns the kind's ceiling field.
func (req instrumentRequest) limit(kind domain.InstrumentKind) *decimal.Decimal {
	if kind == domain.KindLoan {
		return req.Principal
	}
	return req.CreditLimit
}

func (req instrumentRequest) checkFields(kind domain.InstrumentKind) error {
	switch kind {
	case domain.KindBankAccount:
		if req.CreditLimit != nil || req.Principal != nil || req.CurrentDebt != nil {
			return domain.Invalid("currentDebt", "is not supported for bank accounts")
		}
	case domain.KindCreditCard:
		if req.InitialBalance != nil || req.Balance != nil {
			return domain.Invalid("balance", "is not supported for credit cards")
		}
		if req.Principal != nil {
			return domain.Invalid("principal", "is not supported for credit cards")
		}
	case domain.KindLoan:
		if req.InitialBalance != nil || req.Balance != nil {
			return domain.Invalid("balance", "is not supported for loans")
		}
		if req.CreditLimit != nil {
			return domain.Invalid("creditLimit", "is not supported for loans")
		}
	}
	if kind != domain.KindLoan && (req.InterestRate != nil || req.TermMonths != nil) {
		return domain.Invalid("interestRate", "is only supported for loans")
	}
	return nil
}

func (req instrumentRequest) newInstrument(kind domain.InstrumentKind) (app.NewInstrument, error) {
	if err := req.checkFields(kind); err != nil {
		return app.NewInstrument{}, err
	}
	out := app.NewInstrument{Kind: kind}
	if n := req.name(); n != nil {
		out.Name = *n
	}
	if req.Currency != nil {
		out.Currency = *req.Currency
	}

	switch kind {
	case domain.KindBankAccount:
		out.Opening = req.InitialBalance
		if out.Opening == nil {
			out.Opening = req.Balance
		}
	case domain.KindCreditCard, domain.KindLoan:
		limit := req.limit(kind)
		if limit == nil {
			field := "creditLimit"
			if kind == domain.KindLoan {
				field = "principal"
			}
			return app.NewInstrument{}, domain.Invalid(field, "is required")
		}
		out.Limit = *limit
		out.Opening = req.CurrentDebt
		if req.InterestRate != nil {
			out.InterestRate = *req.InterestRate
		}
		if req.TermMonths != nil {
			out.TermMonths = *req.TermMonths
		}
	}
	return out, nil
}

// details maps an update body. Balances and debts only move through
// transactions, and the currency is fixed at creation.
func (req instrumentRequest) details(kind domain.InstrumentKind) (domain.InstrumentDetails, error) {
	if err := req.checkFields(kind); err != nil {
		return domain.InstrumentDetails{}, err
	}
	if req.InitialBalance != nil || req.Balance != nil {
		return domain.InstrumentDetails{}, domain.Invalid("balance", "is changed by posting transactions")
	}
	if req.CurrentDebt != nil {
		return domain.InstrumentDetails{}, domain.Invalid("currentDebt", "is changed by posting transactions")
	}
	if req.Currency != nil {
		return domain.InstrumentDetails{}, domain.Invalid("currency", "cannot be changed")
	}
	return domain.InstrumentDetails{
		Name:         req.name(),
		Limit:        req.limit(kind),
		InterestRate: req.InterestRate,
		TermMonths:   req.TermMonths,
	}, nil
}

type bankAccountResponse struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"userId"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initialBalance"`
	Display        string          `json:"display"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type creditCardResponse struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"userId"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	CreditLimit    decimal.Decimal `json:"creditLimit"`
	CurrentDebt    decimal.Decimal `json:"currentDebt"`
	AvailableLimit decimal.Decimal `json:"availableLimit"`
	Display        string          `json:"display"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type loanResponse struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"userId"`
	Name         string          `json:"name"`
	Currency     string          `json:"currency"`
	Principal    decimal.Decimal `json:"principal"`
	CurrentDebt  decimal.Decimal `json:"currentDebt"`
	InterestRate decimal.Decimal `json:"interestRate"`
	TermMonths   int             `json:"termMonths"`
	Display      string          `json:"display"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func instrumentResponse(inst domain.Instrument) interface{} {
	switch inst.Kind {
	case domain.KindCreditCard:
		return creditCardResponse{
			ID: inst.ID, UserID: inst.OwnerID, Name: inst.Name, Currency: inst.Currency,
			CreditLimit: inst.Limit, CurrentDebt: inst.CurrentDebt, AvailableLimit: inst.AvailableLimit(),
			Display: domain.FormatAmount(inst.CurrentDebt, inst.Currency), CreatedAt: inst.CreatedAt, UpdatedAt: inst.UpdatedAt,
		}
	case domain.KindLoan:
		return loanResponse{
			ID: inst.ID, UserID: inst.OwnerID, Name: inst.Name, Currency: inst.Currency,
			Principal: inst.Limit, CurrentDebt: inst.CurrentDebt, InterestRate: inst.InterestRate, TermMonths: inst.TermMonths,
			Display: domain.FormatAmount(inst.CurrentDebt, inst.Currency), CreatedAt: inst.CreatedAt, UpdatedAt: inst.UpdatedAt,
		}
	}
	return bankAccountResponse{
		ID: inst.ID, UserID: inst.OwnerID, Name: inst.Name, Currency: inst.Currency,
		Balance: inst.Balance, InitialBalance: inst.Opening,
		Display: domain.FormatAmount(inst.Balance, inst.Currency), CreatedAt: inst.CreatedAt, UpdatedAt: inst.UpdatedAt,
	}
}

// InstrumentHandlers serves the CRUD routes of one instrument kind.
type InstrumentHandlers struct {
	service *app.InstrumentService
	kind    domain.InstrumentKind
}

// Instruments returns the handlers for kind.
func (h *Handlers) Instruments(kind domain.InstrumentKind) *InstrumentHandlers {
	return &InstrumentHandlers{service: h.instruments, kind: kind}
}

func (ih *InstrumentHandlers) endpoint(op string) string {
	return op + "_" + strings.ReplaceAll(string(ih.kind), "_", "")
}

// List returns every instrument of the kind owned by the caller.
func (ih *InstrumentHandlers) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	items, err := ih.service.List(r.Context(), ownerID, ih.kind)
	if err != nil {
		writeServiceError(w, r, ih.endpoint("list"), err)
		return
	}
	out := make([]interface{}, 0, len(items))
	for _, inst := range items {
		out = append(out, instrumentResponse(inst))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one instrument.
func (ih *InstrumentHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inst, err := ih.service.Get(r.Context(), ownerID, ih.kind, id)
	if err != nil {
		writeServiceError(w, r, ih.endpoint("get"), err)
		return
	}
	writeJSON(w, http.StatusOK, instrumentResponse(inst))
}

// Create opens a new instrument.
func (ih *InstrumentHandlers) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	var req instrumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, ih.endpoint("create"), err)
		return
	}
	in, err := req.newInstrument(ih.kind)
	if err != nil {
		writeServiceError(w, r, ih.endpoint("create"), err)
		return
	}
	inst, err := ih.service.Create(r.Context(), ownerID, in)
	if err != nil {
		writeServiceError(w, r, ih.endpoint("create"), err)
		return
	}
	writeJSON(w, http.StatusCreated, instrumentResponse(inst))
}

// Update changes an instrument's descriptive fields.
func (ih *InstrumentHandlers) Update(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req instrumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, ih.endpoint("update"), err)
		return
	}
	details, err := req.details(ih.kind)
	if err != nil {
		writeServiceError(w, r, ih.endpoint("update"), err)
		return
	}
	inst, err := ih.service.Update(r.Context(), ownerID, ih.kind, id, details)
	if err != nil {
		writeServiceError(w, r, ih.endpoint("update"), err)
		return
	}
	writeJSON(w, http.StatusOK, instrumentResponse(inst))
}

// Delete removes an unreferenced instrument.
func (ih *InstrumentHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := ih.service.Delete(r.Context(), ownerID, ih.kind, id); err != nil {
		writeServiceError(w, r, ih.endpoint("delete"), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type payCreditCardRequest struct {
	Amount        *decimal.Decimal `json:"amount"`
	BankAccountID string           `json:"bankAccountId"`
	Date          string           `json:"date"`
	Description   string           `json:"description"`
}

// PayCreditCardHandler pays down a card, optionally debiting a bank account.
func (h *Handlers) PayCreditCardHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	cardID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req payCreditCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, "pay_creditcard", err)
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount: is required", "amount")
		return
	}

	payment := app.CardPayment{Amount: *req.Amount, Description: req.Description}
	if raw := strings.TrimSpace(req.BankAccountID); raw != "" {
		bankID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bankAccountId: must be a uuid", "bankAccountId")
			return
		}
		payment.BankAccountID = &bankID
	}
	if strings.TrimSpace(req.Date) != "" {
		date, err := domain.ParseDate("date", req.Date)
		if err != nil {
			writeServiceError(w, r, "pay_creditcard", err)
			return
		}
		payment.Date = date
	}

	result, err := h.engine.PayCreditCard(r.Context(), ownerID, cardID, payment)
	if err != nil {
		writeServiceError(w, r, "pay_creditcard", err)
		return
	}
	log.Printf("level=info component=api endpoint=pay_creditcard outcome=posted owner_id=%s card_id=%s transaction_id=%s", ownerID, cardID, result.Transaction.ID)
	writeJSON(w, http.StatusCreated, result)
}
