package upstream

// BillResult is the upstream fetch-bill response.
type BillResult struct {
	AccountID     string   `json:"account_id"`
	ServiceType   string   `json:"service_type"`
	ConsumerName  string   `json:"consumer_name"`
	AmountDue     float64  `json:"amount_due"`
	DueDate       string   `json:"due_date,omitempty"`
	Status        string   `json:"status"`
	UnitsConsumed *float64 `json:"units_consumed,omitempty"`
	BillingPeriod string   `json:"billing_period,omitempty"`
}

// HistoryEntry is one row of billing history.
type HistoryEntry struct {
	AccountID string   `json:"account_id"`
	Date      string   `json:"date"`
	Amount    float64  `json:"amount"`
	Units     *float64 `json:"units,omitempty"`
	Status    string   `json:"status"`
}

// ComparisonBucket is one per-service total in the comparison chart.
type ComparisonBucket struct {
	Service string  `json:"service"`
	Amount  float64 `json:"amount"`
	Fill    string  `json:"fill"`
}

// TrendLine names one plotted line of the trend chart.
type TrendLine struct {
	Key   string `json:"key"`
	Color string `json:"color"`
	Label string `json:"label"`
}

// ChartData is the upstream chart-data response. Trend rows are
// heterogeneous ({"month": ..., "<service>": amount, ...}) and are
// relayed as-is.
type ChartData struct {
	ComparisonData []ComparisonBucket `json:"comparison_data"`
	TrendData      []map[string]any   `json:"trend_data"`
	TrendLines     []TrendLine        `json:"trend_lines"`
}

// PaymentResponse is the upstream payment initiation response.
type PaymentResponse struct {
	Success      bool   `json:"success"`
	QRCodeBase64 string `json:"qr_code_base64,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// PaymentSession is the upstream payment session status.
type PaymentSession struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
}

// AuthorityContact identifies an authority relevant to an incident.
type AuthorityContact struct {
	Name       string `json:"name"`
	Department string `json:"department"`
	Phone      string `json:"phone"`
	AltPhone   string `json:"alt_phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Type       string `json:"type"`
	Level      string `json:"level"`
	District   string `json:"district,omitempty"`
}

// IncidentRecord is the structured result of an image analysis. The
// disaster and sentinel endpoints share this shape; sentinel responses
// carry plate and violation fields, disaster responses carry category
// and district fields.
type IncidentRecord struct {
	ID             string   `json:"id,omitempty"`
	Category       string   `json:"category,omitempty"`
	Subcategory    string   `json:"subcategory,omitempty"`
	Severity       string   `json:"severity,omitempty"`
	Description    string   `json:"description,omitempty"`
	Detailed       string   `json:"detailed_description,omitempty"`
	PlateNumber    string   `json:"plate_number,omitempty"`
	ViolationType  string   `json:"violation_type,omitempty"`
	Location       string   `json:"location,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	District       string   `json:"district,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	RecommendedFor string   `json:"recommended_authority,omitempty"`
}

// AnalysisRequest is the payload for disaster/sentinel analyze calls.
// Nil coordinates are serialized as JSON null: absence of a device
// location never blocks submission.
type AnalysisRequest struct {
	ImageBase64     string   `json:"image_base64"`
	DeviceLatitude  *float64 `json:"device_latitude"`
	DeviceLongitude *float64 `json:"device_longitude"`
	UserDescription string   `json:"user_description,omitempty"`
}

// AnalysisResponse is the shared analyze response envelope.
type AnalysisResponse struct {
	Success      bool               `json:"success"`
	Incident     *IncidentRecord    `json:"incident,omitempty"`
	Report       *IncidentRecord    `json:"report,omitempty"`
	Authorities  []AuthorityContact `json:"authorities,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}
