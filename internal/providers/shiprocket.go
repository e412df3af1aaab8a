package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"shipping-rates-service/internal/models"
)

// ShiprocketProvider implements the Provider interface for Shiprocket.
// Shiprocket's serviceability endpoint doubles as its rate endpoint and does
// not expose a routing zone.
type ShiprocketProvider struct {
	config     Config
	httpClient *http.Client

	mu          sync.Mutex
	authToken   string
	tokenExpiry time.Time
}

// NewShiprocketProvider creates a new Shiprocket adapter
func NewShiprocketProvider(config Config) *ShiprocketProvider {
	return &ShiprocketProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the provider type
func (s *ShiprocketProvider) Name() models.ProviderType {
	return models.ProviderShiprocket
}

// authenticate gets an auth token from Shiprocket, reusing a cached one
// while valid. Tokens are valid for 10 days.
func (s *ShiprocketProvider) authenticate(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authToken != "" && time.Now().Before(s.tokenExpiry) {
		return s.authToken, nil
	}

	payload := map[string]string{
		"email":    s.config.APIKey,
		"password": s.config.APISecret,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("shiprocket: marshal auth request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/external/auth/login", s.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("shiprocket: create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("shiprocket: send auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("shiprocket: auth failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var authResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", fmt.Errorf("shiprocket: decode auth response: %w", err)
	}

	s.authToken = authResp.Token
	s.tokenExpiry = time.Now().Add(10 * 24 * time.Hour)
	return s.authToken, nil
}

// CheckServiceability queries courier serviceability for the pincode pair.
// Shiprocket does not return a zone; the orchestrator resolves it elsewhere.
func (s *ShiprocketProvider) CheckServiceability(ctx context.Context, req ServiceabilityRequest) (*ServiceabilityResult, error) {
	couriers, err := s.serviceability(ctx, req.OriginPincode, req.DestPincode, req.WeightKg, req.PaymentMode, 0)
	if err != nil {
		return nil, err
	}
	return &ServiceabilityResult{
		Serviceable: len(couriers) > 0,
		Confidence:  models.ConfidenceHigh,
	}, nil
}

// GetRate returns the live rate for the requested service code, or the
// cheapest available courier when the code is not offered.
func (s *ShiprocketProvider) GetRate(ctx context.Context, req RateRequest) (float64, error) {
	couriers, err := s.serviceability(ctx, req.OriginPincode, req.DestPincode, req.WeightKg, req.PaymentMode, req.OrderValue)
	if err != nil {
		return 0, err
	}
	if len(couriers) == 0 {
		return 0, fmt.Errorf("shiprocket: no couriers available")
	}

	best := -1.0
	for _, c := range couriers {
		if c.CourierCode == req.ServiceCode {
			return c.Rate, nil
		}
		if best < 0 || c.Rate < best {
			best = c.Rate
		}
	}
	return best, nil
}

type shiprocketCourier struct {
	CourierCode string
	Rate        float64
}

func (s *ShiprocketProvider) serviceability(ctx context.Context, originPin, destPin string, weightKg float64, mode models.PaymentMode, declaredValue float64) ([]shiprocketCourier, error) {
	token, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("pickup_postcode", originPin)
	query.Set("delivery_postcode", destPin)
	query.Set("weight", fmt.Sprintf("%.2f", weightKg))
	if mode == models.PaymentModeCOD {
		query.Set("cod", "1")
	} else {
		query.Set("cod", "0")
	}
	if declaredValue > 0 {
		query.Set("declared_value", fmt.Sprintf("%.2f", declaredValue))
	}

	endpoint := fmt.Sprintf("%s/v1/external/courier/serviceability/?%s", s.config.BaseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("shiprocket: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shiprocket: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("shiprocket: API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var svcResp struct {
		Data struct {
			AvailableCouriers []struct {
				CourierCompanyID int     `json:"courier_company_id"`
				Rate             float64 `json:"rate"`
			} `json:"available_courier_companies"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&svcResp); err != nil {
		return nil, fmt.Errorf("shiprocket: decode serviceability response: %w", err)
	}

	var couriers []shiprocketCourier
	for _, c := range svcResp.Data.AvailableCouriers {
		couriers = append(couriers, shiprocketCourier{
			CourierCode: fmt.Sprintf("%d", c.CourierCompanyID),
			Rate:        c.Rate,
		})
	}
	return couriers, nil
}

// CreateShipment creates an order, assigns an AWB, and returns it
func (s *ShiprocketProvider) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*CreateShipmentResult, error) {
	token, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"order_id":              req.Reference,
		"order_date":            time.Now().Format("2006-01-02 15:04"),
		"pickup_location":       req.FulfillmentDetails.PickupName,
		"billing_customer_name": req.FulfillmentDetails.DropName,
		"billing_address":       req.FulfillmentDetails.DropAddress,
		"billing_pincode":       req.DestPincode,
		"billing_phone":         req.FulfillmentDetails.DropPhone,
		"shipping_is_billing":   true,
		"payment_method":        shiprocketPaymentMethod(req.PaymentMode),
		"sub_total":             req.OrderValue,
		"weight":                req.WeightKg,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("shiprocket: marshal order payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/external/orders/create/adhoc", s.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("shiprocket: create order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("shiprocket: send order request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("shiprocket: order create returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var orderResp struct {
		ShipmentID int    `json:"shipment_id"`
		AWBCode    string `json:"awb_code"`
		LabelURL   string `json:"label_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&orderResp); err != nil {
		return nil, fmt.Errorf("shiprocket: decode order response: %w", err)
	}
	if orderResp.AWBCode == "" {
		return nil, fmt.Errorf("shiprocket: no AWB assigned for shipment %d", orderResp.ShipmentID)
	}
	return &CreateShipmentResult{AWB: orderResp.AWBCode, LabelRef: orderResp.LabelURL}, nil
}

// CancelShipment cancels the order carrying the AWB
func (s *ShiprocketProvider) CancelShipment(ctx context.Context, awb string) error {
	token, err := s.authenticate(ctx)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{"awbs": []string{awb}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("shiprocket: marshal cancel payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/external/orders/cancel/shipment/awbs", s.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("shiprocket: create cancel request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("shiprocket: send cancel request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("shiprocket: cancel returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// Track retrieves tracking events by AWB
func (s *ShiprocketProvider) Track(ctx context.Context, awb string) ([]TrackingEvent, error) {
	token, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/external/courier/track/awb/%s", s.config.BaseURL, url.PathEscape(awb))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("shiprocket: create tracking request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shiprocket: send tracking request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("shiprocket: tracking returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var trackResp struct {
		TrackingData struct {
			ShipmentTrack []struct {
				CurrentStatus string `json:"current_status"`
			} `json:"shipment_track"`
			ShipmentTrackActivities []struct {
				Date     string `json:"date"`
				Activity string `json:"activity"`
				Location string `json:"location"`
				SrStatus int    `json:"sr-status"`
			} `json:"shipment_track_activities"`
		} `json:"tracking_data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&trackResp); err != nil {
		return nil, fmt.Errorf("shiprocket: decode tracking response: %w", err)
	}

	var events []TrackingEvent
	for _, a := range trackResp.TrackingData.ShipmentTrackActivities {
		ts, _ := time.Parse("2006-01-02 15:04:05", a.Date)
		events = append(events, TrackingEvent{
			Status:      mapShiprocketStatus(a.SrStatus),
			Location:    a.Location,
			Description: a.Activity,
			Timestamp:   ts,
		})
	}
	return events, nil
}

func mapShiprocketStatus(statusID int) models.ShipmentStatus {
	switch statusID {
	case 6:
		return models.ShipmentStatusPickedUp
	case 7:
		return models.ShipmentStatusDelivered
	case 8:
		return models.ShipmentStatusCancelled
	case 17:
		return models.ShipmentStatusOutForDelivery
	case 18, 19, 20:
		return models.ShipmentStatusInTransit
	default:
		return models.ShipmentStatusInTransit
	}
}

func shiprocketPaymentMethod(mode models.PaymentMode) string {
	if mode == models.PaymentModeCOD {
		return "COD"
	}
	return "Prepaid"
}
