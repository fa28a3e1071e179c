package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"dialer-platform/internal/dnc"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/slots"
	"dialer-platform/pkg/logger"
)

// optOutDigit is the IVR digit callers press to be placed on the DNC list.
const optOutDigit = "9"

// WebhookHandler translates provider status callbacks into work item
// transitions. It is the only component that moves items out of the
// in-flight states on the happy path; the sweeper covers lost callbacks.
type WebhookHandler struct {
	items    queue.Repository
	registry dnc.Registry
	recorder *pacing.Recorder
	slots    slots.Slots
	secret   string
}

func NewWebhookHandler(items queue.Repository, registry dnc.Registry, recorder *pacing.Recorder, dialSlots slots.Slots, secret string) *WebhookHandler {
	return &WebhookHandler{items: items, registry: registry, recorder: recorder, slots: dialSlots, secret: secret}
}

// Status handles the Twilio-shaped form POST the provider sends on every
// call progress event. It always answers 200 for events it understands but
// chooses to ignore, so the provider does not retry them.
func (h *WebhookHandler) Status(c *gin.Context) {
	log := logger.From(c.Request.Context())

	if h.secret != "" && !h.verifySignature(c.Request) {
		log.Warn("webhook signature rejected", "remote", c.ClientIP())
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	callID := c.PostForm("CallSid")
	callStatus := c.PostForm("CallStatus")
	if callID == "" || callStatus == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CallSid and CallStatus are required"})
		return
	}

	item, err := h.items.FindByCallID(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			// Stale or foreign callback. The sweeper reclaims anything the
			// provider truly lost, so dropping it here is safe.
			log.Warn("callback for unknown call id dropped", "call_id", callID, "call_status", callStatus)
			c.Status(http.StatusOK)
			return
		}
		log.Error("callback lookup failed", "call_id", callID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	switch callStatus {
	case "queued", "initiated", "ringing":
		c.Status(http.StatusOK)
		return
	case "in-progress", "answered":
		ok, err := h.items.Transition(c.Request.Context(), item.TenantID, item.ID, queue.StatusCalling, queue.StatusInProgress)
		if err != nil {
			log.Error("answer transition failed", "item_id", item.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "transition failed"})
			return
		}
		if ok {
			h.recorder.ObserveAnswer(item.TenantID, item.BroadcastID)
		}
		c.Status(http.StatusOK)
		return
	}

	to, observeAbandon := h.terminalStatus(item, callStatus, c.PostForm("AnsweredBy"), c.PostForm("Disposition"))
	if to == "" {
		log.Warn("unrecognized call status ignored", "call_id", callID, "call_status", callStatus)
		c.Status(http.StatusOK)
		return
	}

	dtmf := c.PostForm("Digits")
	if dtmf == optOutDigit {
		to = queue.StatusDNC
	}

	resolved, err := h.items.Resolve(c.Request.Context(), item.TenantID, item.ID, to, dtmf)
	if err != nil {
		log.Error("callback resolve failed", "item_id", item.ID, "to", to, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve failed"})
		return
	}
	if !resolved {
		// Already resolved by an earlier callback or by the sweeper.
		log.Info("callback for settled item dropped", "item_id", item.ID, "call_status", callStatus)
		c.Status(http.StatusOK)
		return
	}

	// The call left the in-flight states: free its tenant dial slot so the
	// cap tracks live calls, not initiations.
	if h.slots != nil {
		if err := h.slots.Release(c.Request.Context(), item.TenantID, 1); err != nil {
			log.Error("dial slot release failed", "tenant_id", item.TenantID, "error", err)
		}
	}

	if to == queue.StatusDNC {
		if err := h.registry.Add(c.Request.Context(), item.TenantID, item.PhoneNumber); err != nil {
			// The item itself is already marked dnc, so admission still
			// blocks this number for the broadcast; log and move on.
			log.Error("dnc registry append failed", "tenant_id", item.TenantID, "error", err)
		}
	}
	if observeAbandon {
		h.recorder.ObserveAbandon(item.TenantID, item.BroadcastID)
	}

	log.Info("call resolved",
		"tenant_id", item.TenantID,
		"broadcast_id", item.BroadcastID,
		"item_id", item.ID,
		"status", to,
	)
	c.Status(http.StatusOK)
}

// terminalStatus maps a provider terminal event onto the queue's status
// vocabulary. The external disposition classifier's label wins when it names
// a status we track.
func (h *WebhookHandler) terminalStatus(item queue.WorkItem, callStatus, answeredBy, disposition string) (queue.Status, bool) {
	switch disposition {
	case "transferred":
		return queue.StatusTransferred, false
	case "callback":
		return queue.StatusCallback, false
	case "dnc":
		return queue.StatusDNC, false
	case "abandoned":
		return queue.StatusAnswered, true
	}

	switch callStatus {
	case "busy":
		return queue.StatusBusy, false
	case "no-answer":
		return queue.StatusNoAnswer, false
	case "failed", "canceled":
		return queue.StatusFailed, false
	case "completed":
		if strings.HasPrefix(answeredBy, "machine") {
			// Voicemail drop: the number answered but no human engaged.
			return queue.StatusAnswered, false
		}
		if item.Status == queue.StatusCalling {
			// Completed without ever reporting in-progress.
			return queue.StatusNoAnswer, false
		}
		return queue.StatusCompleted, false
	}
	return "", false
}

// verifySignature checks the provider's HMAC-SHA1 request signature: the
// callback URL concatenated with the sorted form parameters, keyed by the
// shared webhook secret.
func (h *WebhookHandler) verifySignature(r *http.Request) bool {
	got := r.Header.Get("X-Twilio-Signature")
	if got == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	keys := make([]string, 0, len(r.PostForm))
	for k := range r.PostForm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(requestURL(r))
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(r.PostForm.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(h.secret))
	mac.Write([]byte(b.String()))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
