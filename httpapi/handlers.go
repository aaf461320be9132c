package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"travelmatch/apperr"
	"travelmatch/catalog"
	"travelmatch/dispute"
	"travelmatch/identity"
)

type registerResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func (s *Server) register(c *gin.Context) {
	var req identity.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := s.identity.Register(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registerResponse{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(user.Role),
	})
}

func (s *Server) login(c *gin.Context) {
	var req identity.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	result, err := s.identity.Login(c.Request.Context(), req)
	if err != nil {
		// Wrong email and wrong password look identical to the caller.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": result.Token,
		"user": registerResponse{
			ID:       result.User.ID,
			Email:    result.User.Email,
			FullName: result.User.FullName,
			Role:     string(result.User.Role),
		},
	})
}

func (s *Server) me(c *gin.Context) {
	user, err := s.identity.GetUserByID(c.Request.Context(), actorID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              user.ID,
		"email":           user.Email,
		"full_name":       user.FullName,
		"phone":           user.Phone,
		"languages":       user.Languages,
		"rating":          user.Rating,
		"completed_count": user.CompletedCount,
		"role":            string(user.Role),
	})
}

type createRequestBody struct {
	Category     string    `json:"category" binding:"required"`
	Origin       string    `json:"origin" binding:"required"`
	Destination  string    `json:"destination" binding:"required"`
	TravelDate   time.Time `json:"travel_date" binding:"required"`
	Seats        int       `json:"seats"`
	NeedsLuggage bool      `json:"needs_luggage"`
	Amount       int64     `json:"amount" binding:"required"`
	Currency     string    `json:"currency" binding:"required"`
}

type requestResponse struct {
	ID             string    `json:"id"`
	RequesterID    string    `json:"requester_id"`
	Category       string    `json:"category"`
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination"`
	TravelDate     time.Time `json:"travel_date"`
	Seats          int       `json:"seats"`
	NeedsLuggage   bool      `json:"needs_luggage"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	IsActive       bool      `json:"is_active"`
	IsMatched      bool      `json:"is_matched"`
	MatchedOfferID *string   `json:"matched_offer_id,omitempty"`
	Version        int64     `json:"version"`
}

func toRequestResponse(req catalog.Request) requestResponse {
	return requestResponse{
		ID:             req.ID,
		RequesterID:    req.RequesterID,
		Category:       string(req.Category),
		Origin:         req.Origin,
		Destination:    req.Destination,
		TravelDate:     req.TravelDate,
		Seats:          req.Seats,
		NeedsLuggage:   req.NeedsLuggage,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IsActive:       req.IsActive,
		IsMatched:      req.IsMatched,
		MatchedOfferID: req.MatchedOfferID,
		Version:        req.Version,
	}
}

func (s *Server) createRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	category := catalog.Category(body.Category)
	if !catalog.ValidCategory(category) {
		s.writeError(c, apperr.Newf(apperr.KindValidation, "unknown category %q", body.Category))
		return
	}
	if body.Amount <= 0 {
		s.writeError(c, apperr.New(apperr.KindValidation, "amount must be positive"))
		return
	}
	seats := body.Seats
	if seats <= 0 {
		seats = 1
	}

	req, err := s.catalog.CreateRequest(c.Request.Context(), catalog.Request{
		RequesterID:  actorID(c),
		Category:     category,
		Origin:       body.Origin,
		Destination:  body.Destination,
		TravelDate:   body.TravelDate,
		Seats:        seats,
		NeedsLuggage: body.NeedsLuggage,
		Amount:       body.Amount,
		Currency:     body.Currency,
		IsActive:     true,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRequestResponse(req))
}

func (s *Server) listRequests(c *gin.Context) {
	requests, err := s.catalog.ListRequests(c.Request.Context(), actorID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, toRequestResponse(req))
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func (s *Server) getRequest(c *gin.Context) {
	req, err := s.catalog.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrRequestNotFound) {
			err = apperr.Wrap(apperr.KindNotFound, "request not found", err)
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRequestResponse(req))
}

func (s *Server) findCandidates(c *gin.Context) {
	maxResults := 10
	if raw := c.Query("max"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(c, apperr.New(apperr.KindValidation, "max must be an integer"))
			return
		}
		maxResults = parsed
	}

	offers, err := s.engine.FindCandidates(c.Request.Context(), c.Param("id"), maxResults)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]offerResponse, 0, len(offers))
	for _, off := range offers {
		out = append(out, toOfferResponse(off))
	}
	c.JSON(http.StatusOK, gin.H{"candidates": out})
}

type createOfferBody struct {
	Category       string    `json:"category" binding:"required"`
	Origin         string    `json:"origin" binding:"required"`
	Destination    string    `json:"destination"`
	WindowStart    time.Time `json:"window_start" binding:"required"`
	WindowEnd      time.Time `json:"window_end" binding:"required"`
	Seats          int       `json:"seats"`
	HandlesLuggage bool      `json:"handles_luggage"`
	Price          int64     `json:"price" binding:"required"`
	Currency       string    `json:"currency" binding:"required"`
}

type offerResponse struct {
	ID             string    `json:"id"`
	HelperID       string    `json:"helper_id"`
	Category       string    `json:"category"`
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination,omitempty"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	Seats          int       `json:"seats"`
	HandlesLuggage bool      `json:"handles_luggage"`
	Price          int64     `json:"price"`
	Currency       string    `json:"currency"`
	HelperRating   float64   `json:"helper_rating"`
	CompletedCount int       `json:"completed_count"`
	IsAvailable    bool      `json:"is_available"`
	Version        int64     `json:"version"`
}

func toOfferResponse(off catalog.Offer) offerResponse {
	return offerResponse{
		ID:             off.ID,
		HelperID:       off.HelperID,
		Category:       string(off.Category),
		Origin:         off.Origin,
		Destination:    off.Destination,
		WindowStart:    off.WindowStart,
		WindowEnd:      off.WindowEnd,
		Seats:          off.Seats,
		HandlesLuggage: off.HandlesLuggage,
		Price:          off.Price,
		Currency:       off.Currency,
		HelperRating:   off.HelperRating,
		CompletedCount: off.CompletedCount,
		IsAvailable:    off.IsAvailable,
		Version:        off.Version,
	}
}

func (s *Server) createOffer(c *gin.Context) {
	var body createOfferBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	category := catalog.Category(body.Category)
	if !catalog.ValidCategory(category) {
		s.writeError(c, apperr.Newf(apperr.KindValidation, "unknown category %q", body.Category))
		return
	}
	if !body.WindowEnd.After(body.WindowStart) {
		s.writeError(c, apperr.New(apperr.KindValidation, "window_end must be after window_start"))
		return
	}
	if body.Price <= 0 {
		s.writeError(c, apperr.New(apperr.KindValidation, "price must be positive"))
		return
	}
	seats := body.Seats
	if seats <= 0 {
		seats = 1
	}

	helper, err := s.identity.GetUserByID(c.Request.Context(), actorID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	off, err := s.catalog.CreateOffer(c.Request.Context(), catalog.Offer{
		HelperID:       helper.ID,
		Category:       category,
		Origin:         body.Origin,
		Destination:    body.Destination,
		WindowStart:    body.WindowStart,
		WindowEnd:      body.WindowEnd,
		Seats:          seats,
		HandlesLuggage: body.HandlesLuggage,
		Price:          body.Price,
		Currency:       body.Currency,
		HelperRating:   helper.Rating,
		CompletedCount: helper.CompletedCount,
		IsAvailable:    true,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toOfferResponse(off))
}

func (s *Server) getOffer(c *gin.Context) {
	off, err := s.catalog.GetOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrOfferNotFound) {
			err = apperr.Wrap(apperr.KindNotFound, "offer not found", err)
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOfferResponse(off))
}

type commitMatchBody struct {
	RequestID string `json:"request_id" binding:"required"`
	OfferID   string `json:"offer_id" binding:"required"`
}

func (s *Server) commitMatch(c *gin.Context) {
	var body commitMatchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	req, err := s.catalog.GetRequest(c.Request.Context(), body.RequestID)
	if err != nil {
		if errors.Is(err, catalog.ErrRequestNotFound) {
			err = apperr.Wrap(apperr.KindNotFound, "request not found", err)
		}
		s.writeError(c, err)
		return
	}
	if req.RequesterID != actorID(c) && !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the requester can commit a match"})
		return
	}

	m, err := s.coord.CommitMatch(c.Request.Context(), body.RequestID, body.OfferID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"request_id": m.RequestID,
		"offer_id":   m.OfferID,
		"payment_id": m.PaymentID,
		"matched_at": m.MatchedAt,
	})
}

func (s *Server) cancelMatch(c *gin.Context) {
	requestID := c.Param("requestID")

	req, err := s.catalog.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, catalog.ErrRequestNotFound) {
			err = apperr.Wrap(apperr.KindNotFound, "request not found", err)
		}
		s.writeError(c, err)
		return
	}
	if !s.partyToMatch(c, req) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this match"})
		return
	}

	updated, err := s.coord.CancelMatch(c.Request.Context(), requestID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRequestResponse(updated))
}

type paymentResponse struct {
	ID          string     `json:"id"`
	PayerID     string     `json:"payer_id"`
	PayeeID     string     `json:"payee_id"`
	RequestID   string     `json:"request_id"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	PlatformFee int64      `json:"platform_fee"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Server) getPayment(c *gin.Context) {
	p, err := s.ledger.Payment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if actor := actorID(c); actor != p.PayerID && actor != p.PayeeID && !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this payment"})
		return
	}
	c.JSON(http.StatusOK, paymentResponse{
		ID:          p.ID,
		PayerID:     p.PayerID,
		PayeeID:     p.PayeeID,
		RequestID:   p.RequestID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      string(p.Status),
		PlatformFee: p.PlatformFee,
		CompletedAt: p.CompletedAt,
	})
}

// releasePayment is the service-completed signal: held funds move to the
// payee. Either party may send it, as can an admin.
func (s *Server) releasePayment(c *gin.Context) {
	p, err := s.ledger.Payment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if actor := actorID(c); actor != p.PayerID && actor != p.PayeeID && !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only a party to the payment can release"})
		return
	}

	released, err := s.ledger.Release(c.Request.Context(), p.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": released.ID, "status": string(released.Status)})
}

type openDisputeBody struct {
	PaymentID   string `json:"payment_id" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
	EvidenceRef string `json:"evidence_ref"`
}

type disputeResponse struct {
	ID                string     `json:"id"`
	PaymentID         string     `json:"payment_id"`
	RaisedByID        string     `json:"raised_by_id"`
	Reason            string     `json:"reason"`
	EvidenceRef       string     `json:"evidence_ref,omitempty"`
	Status            string     `json:"status"`
	AdminNotes        string     `json:"admin_notes,omitempty"`
	ResolvedByAdminID *string    `json:"resolved_by_admin_id,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	return disputeResponse{
		ID:                rec.ID,
		PaymentID:         rec.PaymentID,
		RaisedByID:        rec.RaisedByID,
		Reason:            rec.Reason,
		EvidenceRef:       rec.EvidenceRef,
		Status:            string(rec.Status),
		AdminNotes:        rec.AdminNotes,
		ResolvedByAdminID: rec.ResolvedByAdminID,
		ResolvedAt:        rec.ResolvedAt,
	}
}

func (s *Server) openDispute(c *gin.Context) {
	var body openDisputeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := s.resolver.Open(c.Request.Context(), dispute.OpenParams{
		PaymentID:   body.PaymentID,
		RaisedByID:  actorID(c),
		Reason:      body.Reason,
		EvidenceRef: body.EvidenceRef,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) getDispute(c *gin.Context) {
	rec, err := s.resolver.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !s.partyToDispute(c, rec) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this dispute"})
		return
	}
	c.JSON(http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) listDisputes(c *gin.Context) {
	paymentID := c.Param("id")

	p, err := s.ledger.Payment(c.Request.Context(), paymentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if actor := actorID(c); actor != p.PayerID && actor != p.PayeeID && !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a party to this payment"})
		return
	}

	records, err := s.resolver.ListByPayment(c.Request.Context(), paymentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]disputeResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toDisputeResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"disputes": out})
}

func (s *Server) reviewDispute(c *gin.Context) {
	rec, err := s.resolver.BeginReview(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDisputeResponse(rec))
}

type resolveDisputeBody struct {
	Outcome string `json:"outcome" binding:"required"`
	Notes   string `json:"notes"`
}

func (s *Server) resolveDispute(c *gin.Context) {
	var body resolveDisputeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := s.resolver.Resolve(c.Request.Context(), dispute.ResolveParams{
		DisputeID: c.Param("id"),
		Outcome:   dispute.Outcome(body.Outcome),
		AdminID:   actorID(c),
		Notes:     body.Notes,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) partyToMatch(c *gin.Context, req catalog.Request) bool {
	actor := actorID(c)
	if actor == req.RequesterID || isAdmin(c) {
		return true
	}
	if req.MatchedOfferID == nil {
		return false
	}
	off, err := s.catalog.GetOffer(c.Request.Context(), *req.MatchedOfferID)
	return err == nil && off.HelperID == actor
}

func (s *Server) partyToDispute(c *gin.Context, rec dispute.Record) bool {
	if isAdmin(c) || rec.RaisedByID == actorID(c) {
		return true
	}
	p, err := s.ledger.Payment(c.Request.Context(), rec.PaymentID)
	if err != nil {
		return false
	}
	actor := actorID(c)
	return actor == p.PayerID || actor == p.PayeeID
}
