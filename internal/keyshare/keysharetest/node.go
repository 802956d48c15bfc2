// Package keysharetest provides an in-process key-share node for tests.
package keysharetest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tss-coordinator/internal/party"
)

type shareKey struct {
	AuthType   string
	UserAuthID string
	Curve      string
	PublicKey  string
}

type shareBody struct {
	UserAuthID string `json:"user_auth_id"`
	AuthType   string `json:"auth_type"`
	CurveType  string `json:"curve_type"`
	PublicKey  string `json:"public_key"`
	Share      string `json:"share"`
}

type reshareBody struct {
	UserAuthID string `json:"user_auth_id"`
	AuthType   string `json:"auth_type"`
	Wallets    []struct {
		CurveType string `json:"curve_type"`
		PublicKey string `json:"public_key"`
		Share     string `json:"share"`
	} `json:"wallets"`
}

// Node is a fake key-share node backed by a map.
type Node struct {
	Info party.Node

	mu     sync.Mutex
	shares map[shareKey]string
	calls  map[string]int
	fail   bool
	reject map[string]bool
	delay  time.Duration
	server *httptest.Server
}

// NewNode starts a fake node. Close it with t.Cleanup(n.Close).
func NewNode(name string) *Node {
	gin.SetMode(gin.TestMode)
	n := &Node{
		shares: make(map[shareKey]string),
		calls:  make(map[string]int),
		reject: make(map[string]bool),
	}
	r := gin.New()
	r.Use(n.middleware)
	r.GET("/status", func(c *gin.Context) { ok(c, gin.H{"name": name}) })
	r.POST("/keyshare/v1/register", n.register)
	r.POST("/keyshare/v1", n.request)
	r.POST("/keyshare/v1/reshare", n.reshare(false))
	r.POST("/keyshare/v1/register/reshare", n.reshare(true))
	n.server = httptest.NewServer(r)
	n.Info = party.Node{ID: uuid.New(), Name: name, Endpoint: n.server.URL, Active: true}
	return n
}

func (n *Node) Close() { n.server.Close() }

// SetFailing makes every call return 500.
func (n *Node) SetFailing(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = fail
}

// RejectCurve makes registrations for curveType fail with 500.
func (n *Node) RejectCurve(curveType string, reject bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reject[curveType] = reject
}

// SetDelay delays every response.
func (n *Node) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// Wipe forgets every stored share, as after data loss.
func (n *Node) Wipe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shares = make(map[shareKey]string)
}

// Share returns the stored share for a wallet.
func (n *Node) Share(authType, userAuthID, curveType, publicKey string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, found := n.shares[shareKey{authType, userAuthID, curveType, publicKey}]
	return s, found
}

// SetShare overwrites a stored share.
func (n *Node) SetShare(authType, userAuthID, curveType, publicKey, share string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shares[shareKey{authType, userAuthID, curveType, publicKey}] = share
}

// Calls reports how many times a path was hit.
func (n *Node) Calls(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *Node) middleware(c *gin.Context) {
	n.mu.Lock()
	n.calls[c.FullPath()]++
	fail, delay := n.fail, n.delay
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.Request.Context().Done():
		}
	}
	if fail {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "code": "UNKNOWN_ERROR", "msg": "node failure"})
		return
	}
	c.Next()
}

func (n *Node) register(c *gin.Context) {
	var body shareBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	key := shareKey{body.AuthType, body.UserAuthID, body.CurveType, body.PublicKey}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reject[body.CurveType] {
		fail(c, http.StatusInternalServerError, "UNKNOWN_ERROR", "curve rejected")
		return
	}
	if _, exists := n.shares[key]; exists {
		fail(c, http.StatusConflict, "DUPLICATE_PUBLIC_KEY", "share already registered")
		return
	}
	n.shares[key] = body.Share
	ok(c, nil)
}

func (n *Node) request(c *gin.Context) {
	var body shareBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	n.mu.Lock()
	share, found := n.shares[shareKey{body.AuthType, body.UserAuthID, body.CurveType, body.PublicKey}]
	n.mu.Unlock()
	if !found {
		fail(c, http.StatusNotFound, "WALLET_NOT_FOUND", "no share for wallet")
		return
	}
	ok(c, gin.H{"share": share})
}

func (n *Node) reshare(register bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body reshareBody
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		for _, w := range body.Wallets {
			key := shareKey{body.AuthType, body.UserAuthID, w.CurveType, w.PublicKey}
			_, exists := n.shares[key]
			if register && exists {
				fail(c, http.StatusConflict, "DUPLICATE_PUBLIC_KEY", "share already registered")
				return
			}
			if !register && !exists {
				fail(c, http.StatusNotFound, "WALLET_NOT_FOUND", "no share to reshare")
				return
			}
		}
		for _, w := range body.Wallets {
			n.shares[shareKey{body.AuthType, body.UserAuthID, w.CurveType, w.PublicKey}] = w.Share
		}
		ok(c, nil)
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"success": false, "code": code, "msg": msg})
}
