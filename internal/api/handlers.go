package api

import (
	"net/http"
	"strconv"
	"time"

	"key-chat/relay-gateway/internal/gateway"
)

// handleRelay runs the full admission chain: signature, per-identity quota,
// spending guard, then submission. The chain order is fixed so a rejected
// request never consumes budget further down.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req gateway.RelayRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if !s.deps.Verifier.Verify(req.Signature, req.Timestamp, req.CanonicalMessage(), req.SenderPubkey) {
		s.countRelay("auth_rejected")
		s.writeError(w, &gateway.RelayError{
			Kind:    gateway.KindAuthentication,
			Message: "invalid signature or stale timestamp",
		})
		return
	}

	identifier := req.SenderPubkey
	if identifier == "" {
		identifier = clientIP(r)
	}
	if identifier == "" {
		identifier = "unknown"
	}

	if ok, retryAfter := s.deps.Quota.Consume(identifier, time.Now()); !ok {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RateRejections.Inc()
		}
		s.countRelay("rate_limited")
		s.writeError(w, gateway.RateLimited(retryAfter, "allowance is "+s.quotaPolicy))
		return
	}

	if err := s.deps.Spending.Charge(r.Context(), identifier); err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.SpendingRejections.Inc()
		}
		s.countRelay("spending_rejected")
		s.writeError(w, err)
		return
	}

	reference, err := s.deps.Relay.Submit(r.Context(), &req)
	if err != nil {
		s.countRelay("failed")
		s.writeError(w, err)
		return
	}
	s.countRelay("ok")
	writeJSON(w, http.StatusOK, map[string]string{"signature": reference})
}

func (s *Server) countRelay(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RelayRequests.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")
	since := time.Time{}
	// since is unix seconds, the same unit records carry in their timestamp
	// field, so clients can echo the last timestamp they saw
	if raw := r.URL.Query().Get("since"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs < 0 {
			s.writeError(w, &gateway.RelayError{Kind: gateway.KindInvalidRequest, Message: "invalid since parameter"})
			return
		}
		since = time.Unix(secs, 0)
	}

	records, err := s.deps.Inbox.FetchInbox(r.Context(), pubkey, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": records})
}

type blockRequest struct {
	BlockerPubkey string `json:"blockerPubkey"`
	BlockedPubkey string `json:"blockedPubkey"`
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Blocklist.Block(r.Context(), req.BlockerPubkey, req.BlockedPubkey); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"blocked": true})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Blocklist.Unblock(r.Context(), req.BlockerPubkey, req.BlockedPubkey); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"blocked": false})
}

func (s *Server) handleBlockCheck(w http.ResponseWriter, r *http.Request) {
	blocker := r.URL.Query().Get("blocker")
	blocked := r.URL.Query().Get("blocked")
	if blocker == "" || blocked == "" {
		s.writeError(w, &gateway.RelayError{Kind: gateway.KindInvalidRequest, Message: "missing blocker or blocked parameter"})
		return
	}
	is, err := s.deps.Blocklist.IsBlocked(r.Context(), blocker, blocked)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isBlocked": is})
}

func (s *Server) handleBlockList(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Blocklist.BlockedUsers(r.Context(), r.PathValue("pubkey"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blockedUsers": users})
}

func (s *Server) handleUsernameCheck(w http.ResponseWriter, r *http.Request) {
	free, err := s.deps.Usernames.Available(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": free})
}

func (s *Server) handleUsernameLookup(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Usernames.Lookup(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type usernameRequest struct {
	Username      string `json:"username"`
	OwnerPubkey   string `json:"ownerPubkey"`
	EncryptionKey string `json:"encryptionKey,omitempty"`
	Signature     string `json:"signature"`
	Timestamp     int64  `json:"timestamp"`
}

func (s *Server) handleUsernameRegister(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err := s.deps.Usernames.Register(r.Context(), req.Username, req.OwnerPubkey, req.EncryptionKey, req.Signature, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"registered": true})
}

func (s *Server) handleUsernameRelease(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err := s.deps.Usernames.Release(r.Context(), req.Username, req.OwnerPubkey, req.Signature, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

type avatarRequest struct {
	Username     string `json:"username"`
	AvatarBase64 string `json:"avatarBase64"`
}

func (s *Server) handleAvatarSet(w http.ResponseWriter, r *http.Request) {
	var req avatarRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Avatars.Set(r.Context(), req.Username, req.AvatarBase64); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleAvatarGet(w http.ResponseWriter, r *http.Request) {
	avatar, err := s.deps.Avatars.Get(r.Context(), r.PathValue("username"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatarBase64": avatar})
}

func (s *Server) handleAvatarDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Avatars.Delete(r.Context(), r.PathValue("username")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type groupRequest struct {
	Name         string `json:"name,omitempty"`
	GroupID      string `json:"groupId,omitempty"`
	MemberPubkey string `json:"memberPubkey,omitempty"`
	OwnerPubkey  string `json:"ownerPubkey,omitempty"`
	Signature    string `json:"signature"`
	Timestamp    int64  `json:"timestamp"`
}

func (s *Server) handleGroupCreate(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	group, err := s.deps.Groups.Create(r.Context(), req.Name, req.OwnerPubkey, req.Signature, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleGroupInvite(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err := s.deps.Groups.Invite(r.Context(), req.GroupID, req.MemberPubkey, req.OwnerPubkey, req.Signature, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invited": true})
}

func (s *Server) handleGroupLeave(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	err := s.deps.Groups.Leave(r.Context(), req.GroupID, req.MemberPubkey, req.Signature, req.Timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}

func (s *Server) handleGroupGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	group, err := s.deps.Groups.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	members, err := s.deps.Groups.Members(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": group, "members": members})
}

func (s *Server) handleUserGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Groups.UserGroups(r.Context(), r.PathValue("pubkey"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// handleConfig tells clients the knobs they need before first relay.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"network":         s.network,
		"rateLimit":       s.quotaPolicy,
		"inlineLimit":     s.deps.Relay.InlineLimit,
		"maxPayloadBytes": s.deps.Relay.MaxPayload,
		"feePayer":        s.deps.FeePayerAddress,
	})
}

// handleHealth reports liveness plus the fee payer's remaining balance, the
// first thing an operator checks when relays start failing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"network":   s.network,
		"rateLimit": s.quotaPolicy,
	}
	if balance, err := s.deps.Ledger.Balance(r.Context(), s.deps.FeePayerAddress); err == nil {
		body["feePayerBalance"] = balance
		if s.deps.Metrics != nil {
			s.deps.Metrics.FeePayerBalance.Set(float64(balance))
		}
	} else {
		body["status"] = "degraded"
	}
	if height, err := s.deps.Ledger.Height(r.Context()); err == nil {
		body["ledgerHeight"] = height
	}
	writeJSON(w, http.StatusOK, body)
}
