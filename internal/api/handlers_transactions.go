package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/shopspring/decimal"
)

// transactionRequest is the create and update body. The bankAccountId,
// creditCardId, toBankAccountId and categoryId fields are the older client
// shape; explicit instrument fields win over them.
type transactionRequest struct {
	Type                      string           `json:"type"`
	Amount                    *decimal.Decimal `json:"amount"`
	Date                      string           `json:"date"`
	Description               string           `json:"description"`
	Category                  string           `json:"category"`
	SourceInstrumentID        string           `json:"sourceInstrumentId"`
	SourceInstrumentKind      string           `json:"sourceInstrumentKind"`
	DestinationInstrumentID   string           `json:"destinationInstrumentId"`
	DestinationInstrumentKind string           `json:"destinationInstrumentKind"`
	TransferType              string           `json:"transferType"`

	BankAccountID   string `json:"bankAccountId"`
	CreditCardID    string `json:"creditCardId"`
	ToBankAccountID string `json:"toBankAccountId"`
	CategoryID      string `json:"categoryId"`
}

func (req transactionRequest) intent() (domain.TransactionIntent, error) {
	txType, err := domain.ParseTransactionType(req.Type)
	if err != nil {
		return domain.TransactionIntent{}, err
	}
	if req.Amount == nil {
		return domain.TransactionIntent{}, domain.Invalid("amount", "is required")
	}
	date, err := domain.ParseDate("date", req.Date)
	if err != nil {
		return domain.TransactionIntent{}, err
	}

	source, err := parseRef("sourceInstrument", req.SourceInstrumentID, req.SourceInstrumentKind)
	if err != nil {
		return domain.TransactionIntent{}, err
	}
	destination, err := parseRef("destinationInstrument", req.DestinationInstrumentID, req.DestinationInstrumentKind)
	if err != nil {
		return domain.TransactionIntent{}, err
	}

	legacySource, legacyDestination, err := req.legacyRefs(txType)
	if err != nil {
		return domain.TransactionIntent{}, err
	}
	if source == nil {
		source = legacySource
	}
	if destination == nil {
		destination = legacyDestination
	}

	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = strings.TrimSpace(req.CategoryID)
	}

	return domain.TransactionIntent{
		Type:         txType,
		Amount:       *req.Amount,
		Date:         date,
		Description:  req.Description,
		Category:     category,
		Source:       source,
		Destination:  destination,
		TransferType: req.TransferType,
	}, nil
}

func (req transactionRequest) legacyRefs(txType domain.TransactionType) (source, destination *domain.InstrumentRef, err error) {
	bank, err := parseLegacyRef("bankAccountId", req.BankAccountID, domain.KindBankAccount)
	if err != nil {
		return nil, nil, err
	}
	card, err := parseLegacyRef("creditCardId", req.CreditCardID, domain.KindCreditCard)
	if err != nil {
		return nil, nil, err
	}
	toBank, err := parseLegacyRef("toBankAccountId", req.ToBankAccountID, domain.KindBankAccount)
	if err != nil {
		return nil, nil, err
	}

	switch txType {
	case domain.TypeExpense:
		source = firstRef(bank, card)
	case domain.TypeIncome:
		destination = firstRef(bank, card)
	case domain.TypeTransfer:
		source = bank
		destination = firstRef(toBank, card)
	}
	return source, destination, nil
}

func firstRef(refs ...*domain.InstrumentRef) *domain.InstrumentRef {
	for _, ref := range refs {
		if ref != nil {
			return ref
		}
	}
	return nil
}

func parseRef(prefix, rawID, rawKind string) (*domain.InstrumentRef, error) {
	rawID, rawKind = strings.TrimSpace(rawID), strings.TrimSpace(rawKind)
	if rawID == "" && rawKind == "" {
		return nil, nil
	}
	if rawID == "" {
		return nil, domain.Invalid(prefix+"Id", "is required when %sKind is set", prefix)
	}
	if rawKind == "" {
		return nil, domain.Invalid(prefix+"Kind", "is required when %sId is set", prefix)
	}
	kind, err := domain.ParseInstrumentKind(rawKind)
	if err != nil {
		return nil, domain.Invalid(prefix+"Kind", "must be one of bank_account, credit_card, loan")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, domain.Invalid(prefix+"Id", "must be a uuid")
	}
	return &domain.InstrumentRef{Kind: kind, ID: id}, nil
}

func parseLegacyRef(field, rawID string, kind domain.InstrumentKind) (*domain.InstrumentRef, error) {
	rawID = strings.TrimSpace(rawID)
	if rawID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, domain.Invalid(field, "must be a uuid")
	}
	return &domain.InstrumentRef{Kind: kind, ID: id}, nil
}

type transactionListResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

// parseTransactionFilter reads the list query string.
func parseTransactionFilter(r *http.Request) (domain.TransactionFilter, error) {
	q := r.URL.Query()
	var filter domain.TransactionFilter

	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		txType, err := domain.ParseTransactionType(raw)
		if err != nil {
			return filter, err
		}
		filter.Type = txType
	}

	ref, err := parseRef("instrument", q.Get("instrumentId"), q.Get("instrumentKind"))
	if err != nil {
		return filter, err
	}
	filter.Instrument = ref
	filter.Category = strings.TrimSpace(q.Get("category"))

	if raw := q.Get("from"); strings.TrimSpace(raw) != "" {
		from, err := domain.ParseDate("from", raw)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}
	if raw := q.Get("to"); strings.TrimSpace(raw) != "" {
		to, err := domain.ParseDate("to", raw)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, domain.Invalid("to", "must not be before from")
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, domain.Invalid(p.name, "must be a non-negative integer")
		}
		*p.dst = n
	}
	return filter.Normalize(), nil
}

// CreateTransactionHandler posts a new transaction.
func (h *Handlers) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, "create_transaction", err)
		return
	}
	in, err := req.intent()
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_transaction outcome=reject owner_id=%s err=%v", ownerID, err)
		writeServiceError(w, r, "create_transaction", err)
		return
	}

	result, err := h.engine.Create(r.Context(), ownerID, in)
	if err != nil {
		writeServiceError(w, r, "create_transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListTransactionsHandler lists the owner's transactions, newest first.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeServiceError(w, r, "list_transactions", err)
		return
	}

	txs, err := h.engine.List(r.Context(), ownerID, filter)
	if err != nil {
		writeServiceError(w, r, "list_transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, transactionListResponse{Transactions: txs, Limit: filter.Limit, Offset: filter.Offset})
}

// GetTransactionHandler returns one transaction.
func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	t, err := h.engine.Get(r.Context(), ownerID, id)
	if err != nil {
		writeServiceError(w, r, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTransactionHandler replaces a transaction and re-posts its effects.
func (h *Handlers) UpdateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, "update_transaction", err)
		return
	}
	in, err := req.intent()
	if err != nil {
		writeServiceError(w, r, "update_transaction", err)
		return
	}

	result, err := h.engine.Update(r.Context(), ownerID, id, in)
	if err != nil {
		writeServiceError(w, r, "update_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeleteTransactionHandler removes a transaction and reverses its effects.
func (h *Handlers) DeleteTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.engine.Delete(r.Context(), ownerID, id)
	if err != nil {
		writeServiceError(w, r, "delete_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
