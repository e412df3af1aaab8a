package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shipping-rates-service/internal/models"
)

// DelhiveryProvider implements the Provider interface for Delhivery.
// Delhivery returns the routing zone with its serviceability response, so it
// also implements PincodeZoneResolver.
type DelhiveryProvider struct {
	config     Config
	httpClient *http.Client
}

// NewDelhiveryProvider creates a new Delhivery adapter
func NewDelhiveryProvider(config Config) *DelhiveryProvider {
	return &DelhiveryProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the provider type
func (d *DelhiveryProvider) Name() models.ProviderType {
	return models.ProviderDelhivery
}

// CheckServiceability checks the destination pincode and returns the routing
// zone when Delhivery reports one.
func (d *DelhiveryProvider) CheckServiceability(ctx context.Context, req ServiceabilityRequest) (*ServiceabilityResult, error) {
	endpoint := fmt.Sprintf("%s/c/api/pin-codes/json/?filter_codes=%s", d.config.BaseURL, url.QueryEscape(req.DestPincode))

	body, err := d.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var pinResp struct {
		DeliveryCodes []struct {
			PostalCode struct {
				Pin      int    `json:"pin"`
				Prepaid  string `json:"pre_paid"`
				COD      string `json:"cod"`
				District string `json:"district"`
			} `json:"postal_code"`
		} `json:"delivery_codes"`
	}
	if err := json.Unmarshal(body, &pinResp); err != nil {
		return nil, fmt.Errorf("delhivery: decode serviceability response: %w", err)
	}

	if len(pinResp.DeliveryCodes) == 0 {
		return &ServiceabilityResult{Serviceable: false}, nil
	}

	pc := pinResp.DeliveryCodes[0].PostalCode
	if req.PaymentMode == models.PaymentModeCOD && !strings.EqualFold(pc.COD, "Y") {
		return &ServiceabilityResult{Serviceable: false}, nil
	}
	if req.PaymentMode == models.PaymentModePrepaid && !strings.EqualFold(pc.Prepaid, "Y") {
		return &ServiceabilityResult{Serviceable: false}, nil
	}

	zone, err := d.ResolveZone(ctx, req.OriginPincode, req.DestPincode)
	if err != nil {
		// Serviceable but zone unknown; the resolver's zone fallback handles it
		return &ServiceabilityResult{Serviceable: true, Confidence: models.ConfidenceMedium}, nil
	}
	return &ServiceabilityResult{Serviceable: true, Zone: zone, Confidence: models.ConfidenceHigh}, nil
}

// ResolveZone maps a pincode pair to a Delhivery routing zone (A..E)
func (d *DelhiveryProvider) ResolveZone(ctx context.Context, originPincode, destPincode string) (string, error) {
	query := url.Values{}
	query.Set("origin_pin", originPincode)
	query.Set("destination_pin", destPincode)
	endpoint := fmt.Sprintf("%s/api/kinko/v1/invoice/charges/zone/?%s", d.config.BaseURL, query.Encode())

	body, err := d.get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var zoneResp struct {
		Zone string `json:"zone"`
	}
	if err := json.Unmarshal(body, &zoneResp); err != nil {
		return "", fmt.Errorf("delhivery: decode zone response: %w", err)
	}
	if zoneResp.Zone == "" {
		return "", fmt.Errorf("delhivery: no zone for %s -> %s", originPincode, destPincode)
	}
	return zoneResp.Zone, nil
}

// GetRate retrieves a live rate from the invoice charges API
func (d *DelhiveryProvider) GetRate(ctx context.Context, req RateRequest) (float64, error) {
	query := url.Values{}
	query.Set("md", "S") // surface
	query.Set("ss", "Delivered")
	query.Set("o_pin", req.OriginPincode)
	query.Set("d_pin", req.DestPincode)
	query.Set("cgm", fmt.Sprintf("%.0f", req.WeightKg*1000)) // grams
	if req.PaymentMode == models.PaymentModeCOD {
		query.Set("pt", "COD")
		query.Set("cod", fmt.Sprintf("%.2f", req.OrderValue))
	} else {
		query.Set("pt", "Pre-paid")
	}
	endpoint := fmt.Sprintf("%s/api/kinko/v1/invoice/charges/.json?%s", d.config.BaseURL, query.Encode())

	body, err := d.get(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	var charges []struct {
		TotalAmount float64 `json:"total_amount"`
	}
	if err := json.Unmarshal(body, &charges); err != nil {
		return 0, fmt.Errorf("delhivery: decode charges response: %w", err)
	}
	if len(charges) == 0 {
		return 0, fmt.Errorf("delhivery: empty charges response")
	}
	return charges[0].TotalAmount, nil
}

// CreateShipment creates a shipment and returns the assigned waybill
func (d *DelhiveryProvider) CreateShipment(ctx context.Context, req CreateShipmentRequest) (*CreateShipmentResult, error) {
	payload := map[string]interface{}{
		"shipments": []map[string]interface{}{
			{
				"name":          req.FulfillmentDetails.DropName,
				"add":           req.FulfillmentDetails.DropAddress,
				"pin":           req.DestPincode,
				"phone":         req.FulfillmentDetails.DropPhone,
				"order":         req.Reference,
				"payment_mode":  delhiveryPaymentMode(req.PaymentMode),
				"cod_amount":    codAmount(req),
				"total_amount":  req.OrderValue,
				"weight":        req.WeightKg * 1000,
				"shipping_mode": "Surface",
			},
		},
		"pickup_location": map[string]interface{}{
			"name": req.FulfillmentDetails.PickupName,
			"add":  req.FulfillmentDetails.PickupAddress,
			"pin":  req.OriginPincode,
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("delhivery: marshal shipment payload: %w", err)
	}

	// Delhivery's CMU endpoint takes form-encoded JSON
	form := url.Values{}
	form.Set("format", "json")
	form.Set("data", string(jsonData))

	endpoint := fmt.Sprintf("%s/api/cmu/create.json", d.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("delhivery: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Token %s", d.config.APIKey))

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("delhivery: send create request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("delhivery: create returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var createResp struct {
		Packages []struct {
			Waybill string   `json:"waybill"`
			Status  string   `json:"status"`
			Remarks []string `json:"remarks"`
		} `json:"packages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&createResp); err != nil {
		return nil, fmt.Errorf("delhivery: decode create response: %w", err)
	}
	if len(createResp.Packages) == 0 || createResp.Packages[0].Waybill == "" {
		return nil, fmt.Errorf("delhivery: no waybill assigned")
	}

	pkg := createResp.Packages[0]
	return &CreateShipmentResult{
		AWB:      pkg.Waybill,
		LabelRef: fmt.Sprintf("%s/api/p/packing_slip?wbns=%s&pdf=true", d.config.BaseURL, pkg.Waybill),
	}, nil
}

// CancelShipment cancels a shipment by waybill
func (d *DelhiveryProvider) CancelShipment(ctx context.Context, awb string) error {
	payload := map[string]interface{}{
		"waybill":      awb,
		"cancellation": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("delhivery: marshal cancel payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/p/edit", d.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("delhivery: create cancel request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Token %s", d.config.APIKey))

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("delhivery: send cancel request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delhivery: cancel returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// Track retrieves tracking events for a waybill
func (d *DelhiveryProvider) Track(ctx context.Context, awb string) ([]TrackingEvent, error) {
	endpoint := fmt.Sprintf("%s/api/v1/packages/json/?waybill=%s", d.config.BaseURL, url.QueryEscape(awb))

	body, err := d.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var trackResp struct {
		ShipmentData []struct {
			Shipment struct {
				Scans []struct {
					ScanDetail struct {
						Scan            string    `json:"Scan"`
						ScanType        string    `json:"ScanType"`
						ScannedLocation string    `json:"ScannedLocation"`
						Instructions    string    `json:"Instructions"`
						ScanDateTime    time.Time `json:"ScanDateTime"`
					} `json:"ScanDetail"`
				} `json:"Scans"`
			} `json:"Shipment"`
		} `json:"ShipmentData"`
	}
	if err := json.Unmarshal(body, &trackResp); err != nil {
		return nil, fmt.Errorf("delhivery: decode tracking response: %w", err)
	}
	if len(trackResp.ShipmentData) == 0 {
		return nil, fmt.Errorf("delhivery: no tracking data for %s", awb)
	}

	var events []TrackingEvent
	for _, scan := range trackResp.ShipmentData[0].Shipment.Scans {
		sd := scan.ScanDetail
		events = append(events, TrackingEvent{
			Status:      mapDelhiveryScan(sd.ScanType),
			Location:    sd.ScannedLocation,
			Description: sd.Instructions,
			Timestamp:   sd.ScanDateTime,
		})
	}
	return events, nil
}

func (d *DelhiveryProvider) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("delhivery: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Token %s", d.config.APIKey))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("delhivery: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("delhivery: API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return io.ReadAll(resp.Body)
}

func mapDelhiveryScan(scanType string) models.ShipmentStatus {
	switch strings.ToUpper(scanType) {
	case "UD":
		return models.ShipmentStatusInTransit
	case "DL":
		return models.ShipmentStatusDelivered
	case "RT":
		return models.ShipmentStatusReturned
	case "CN":
		return models.ShipmentStatusCancelled
	default:
		return models.ShipmentStatusInTransit
	}
}

func delhiveryPaymentMode(mode models.PaymentMode) string {
	if mode == models.PaymentModeCOD {
		return "COD"
	}
	return "Prepaid"
}

func codAmount(req CreateShipmentRequest) float64 {
	if req.PaymentMode == models.PaymentModeCOD {
		return req.OrderValue
	}
	return 0
}
