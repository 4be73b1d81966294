package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"hedgegram/auth"
	"hedgegram/config"
	"hedgegram/logs"
)

// Ensure LiveSource implements PositionSource.
var _ PositionSource = (*LiveSource)(nil)

// LiveSource reads the real position book from the brokerage. Every call
// loads the session credential from the store, so a rotated or cleared token
// takes effect on the next poll.
type LiveSource struct {
	httpClient *http.Client
	creds      *auth.Store
	clientID   string

	positionsURL string
	ltpURL       string
	limitsURL    string
	cancelURL    string
}

// NewLiveSource creates a live position source from environment config.
func NewLiveSource(env *config.EnvConfig, creds *auth.Store, timeout time.Duration) *LiveSource {
	return &LiveSource{
		httpClient:   &http.Client{Timeout: timeout},
		creds:        creds,
		clientID:     env.BrokerClientID,
		positionsURL: env.BrokerPositionsURL,
		ltpURL:       env.BrokerLTPURL,
		limitsURL:    env.BrokerLimitsURL,
		cancelURL:    env.BrokerCancelURL,
	}
}

// positionRow is one raw row of the brokerage position book.
type positionRow struct {
	Symbol   string `json:"tsym"`
	NetQty   string `json:"netqty"`
	AvgPrice string `json:"netavgprc"`
}

// FetchPositions returns the enriched live position book. A missing
// credential or a failed upstream call is an error, never a silent empty
// list; a genuinely flat account yields an empty slice.
func (l *LiveSource) FetchPositions(ctx context.Context) ([]Position, error) {
	cred, err := l.credential()
	if err != nil {
		return nil, err
	}

	body, err := l.post(ctx, "position book", l.positionsURL, cred.Token,
		map[string]string{"clientcode": l.clientID})
	if err != nil {
		return nil, err
	}

	var rows []positionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &UpstreamError{Op: "position book", Body: string(body), Err: fmt.Errorf("malformed response: %w", err)}
	}

	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		qty, err := strconv.Atoi(row.NetQty)
		if err != nil {
			return nil, &UpstreamError{Op: "position book", Err: fmt.Errorf("malformed netqty %q for %s", row.NetQty, row.Symbol)}
		}
		if qty == 0 {
			continue
		}
		avg, err := strconv.ParseFloat(row.AvgPrice, 64)
		if err != nil {
			return nil, &UpstreamError{Op: "position book", Err: fmt.Errorf("malformed netavgprc %q for %s", row.AvgPrice, row.Symbol)}
		}

		side := Buy
		if qty < 0 {
			side = Sell
			qty = -qty
		}

		ltp, err := l.lastTradedPrice(ctx, cred.Token, row.Symbol)
		if err != nil {
			return nil, err
		}

		positions = append(positions, Position{
			Symbol:   row.Symbol,
			Side:     side,
			Qty:      qty,
			AvgPrice: avg,
			LTP:      ltp,
		})
	}
	return Enrich(positions), nil
}

type ltpEntry struct {
	LTP float64 `json:"ltp"`
}

func (l *LiveSource) lastTradedPrice(ctx context.Context, token, symbol string) (float64, error) {
	body, err := l.post(ctx, "ltp", l.ltpURL, token,
		map[string][]string{"symbols": {symbol}})
	if err != nil {
		return 0, err
	}
	var quotes map[string]ltpEntry
	if err := json.Unmarshal(body, &quotes); err != nil {
		return 0, &UpstreamError{Op: "ltp", Body: string(body), Err: fmt.Errorf("malformed response: %w", err)}
	}
	quote, ok := quotes[symbol]
	if !ok {
		return 0, &UpstreamError{Op: "ltp", Err: fmt.Errorf("no quote returned for %s", symbol)}
	}
	return quote.LTP, nil
}

// limitsResponse carries the account funds report.
type limitsResponse struct {
	Cash       string `json:"cash"`
	MarginUsed string `json:"marginused"`
}

// AvailableMargin returns funds currently available to support open
// positions.
func (l *LiveSource) AvailableMargin(ctx context.Context) (float64, error) {
	cred, err := l.credential()
	if err != nil {
		return 0, err
	}
	body, err := l.post(ctx, "limits", l.limitsURL, cred.Token,
		map[string]string{"clientcode": l.clientID})
	if err != nil {
		return 0, err
	}
	var limits limitsResponse
	if err := json.Unmarshal(body, &limits); err != nil {
		return 0, &UpstreamError{Op: "limits", Body: string(body), Err: fmt.Errorf("malformed response: %w", err)}
	}
	cash, err := strconv.ParseFloat(limits.Cash, 64)
	if err != nil {
		return 0, &UpstreamError{Op: "limits", Err: fmt.Errorf("malformed cash %q", limits.Cash)}
	}
	var used float64
	if limits.MarginUsed != "" {
		if used, err = strconv.ParseFloat(limits.MarginUsed, 64); err != nil {
			return 0, &UpstreamError{Op: "limits", Err: fmt.Errorf("malformed marginused %q", limits.MarginUsed)}
		}
	}
	return cash - used, nil
}

// CancelAllOrders asks the brokerage to cancel every outstanding order.
// Used by the panic path; callers treat failures as best-effort.
func (l *LiveSource) CancelAllOrders(ctx context.Context) error {
	cred, err := l.credential()
	if err != nil {
		return err
	}
	if cred.SessionID == "" {
		return &UpstreamError{Op: "cancel all", Err: fmt.Errorf("credential has no session id")}
	}
	body, err := l.post(ctx, "cancel all", l.cancelURL, cred.Token,
		map[string]string{"sid": cred.SessionID})
	if err != nil {
		return err
	}
	logs.Infof("[Live] Cancel-all request accepted: %s", string(body))
	return nil
}

func (l *LiveSource) credential() (auth.Credential, error) {
	cred, ok, err := l.creds.Load()
	if err != nil {
		return auth.Credential{}, fmt.Errorf("failed to load live credential: %w", err)
	}
	if !ok {
		return auth.Credential{}, auth.ErrNoCredential
	}
	return cred, nil
}

// post sends an authenticated JSON request and returns the response body,
// converting transport failures and non-200 statuses into UpstreamError.
func (l *LiveSource) post(ctx context.Context, op, url, token string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
