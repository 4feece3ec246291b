package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/msplit/msplit/internal/config"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	tokenPath          = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath        = "/mpesa/stkpush/v1/processrequest"
	timestampLayout    = "20060102150405"
	transactionType    = "CustomerPayBillOnline"
	transactionDesc    = "MSplit Payment"
)

var (
	// ErrGatewayDisabled is returned when no gateway credentials are configured.
	ErrGatewayDisabled = errors.New("payment gateway not configured")
	// ErrGatewayRejected is returned when the gateway refuses the push.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
)

// eat is the gateway's local time zone, used for request timestamps.
var eat = time.FixedZone("EAT", 3*60*60)

// Receipt is the gateway's acknowledgement of a push request.
type Receipt struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Gateway prompts a payer's phone to authorise a payment.
type Gateway interface {
	InitiatePush(ctx context.Context, msisdn string, amount int64, reference string) (Receipt, error)
}

// DisabledGateway rejects every push. Used when credentials are absent.
type DisabledGateway struct{}

func (DisabledGateway) InitiatePush(context.Context, string, int64, string) (Receipt, error) {
	return Receipt{}, ErrGatewayDisabled
}

// MpesaGateway talks to the M-Pesa Express API. Access tokens are cached
// until shortly before they expire.
type MpesaGateway struct {
	cfg        config.MpesaConfig
	httpClient *http.Client
	nowF       func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewMpesaGateway builds a gateway for cfg. A nil client gets a 15s timeout.
func NewMpesaGateway(cfg config.MpesaConfig, httpClient *http.Client) *MpesaGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &MpesaGateway{cfg: cfg, httpClient: httpClient, nowF: time.Now}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// InitiatePush sends an STK push for amount to msisdn.
func (g *MpesaGateway) InitiatePush(ctx context.Context, msisdn string, amount int64, reference string) (Receipt, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return Receipt{}, err
	}

	timestamp := g.nowF().In(eat).Format(timestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(g.cfg.ShortCode + g.cfg.PassKey + timestamp))
	body := stkPushRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount,
		PartyA:            msisdn,
		PartyB:            g.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       g.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   transactionDesc,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+stkPushPath, bytes.NewReader(raw))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("mpesa stk push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		g.dropToken()
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Receipt{}, fmt.Errorf("%w: status=%d body=%s", ErrGatewayRejected, resp.StatusCode, string(b))
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, fmt.Errorf("mpesa stk push: decode response: %w", err)
	}
	if receipt.ResponseCode != "0" {
		return receipt, fmt.Errorf("%w: %s", ErrGatewayRejected, receipt.ResponseDescription)
	}
	return receipt, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (g *MpesaGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && g.nowF().Before(g.tokenExpiry) {
		return g.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mpesa token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("mpesa token: status=%d body=%s", resp.StatusCode, string(b))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("mpesa token: decode response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("mpesa token: empty access token")
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	// refresh a minute early so a token never expires mid-request
	if ttl > 2*time.Minute {
		ttl -= time.Minute
	}
	g.token = tr.AccessToken
	g.tokenExpiry = g.nowF().Add(ttl)
	return g.token, nil
}

func (g *MpesaGateway) dropToken() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
}
