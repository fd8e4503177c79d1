package config

// Setting documents one config key for --about
type Setting struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required,omitempty"`
	Secret      bool        `json:"secret,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description"`
}

// Settings lists every supported config key
func Settings() []Setting {
	v := New()
	def := func(key string) interface{} { return v.Get(key) }

	return []Setting{
		{Name: "api_token", Type: "string", Required: true, Secret: true, Description: "Aptem API token sent as X-API-Token"},
		{Name: "tenant_name", Type: "string", Required: true, Description: "Tenant subdomain of aptem.co.uk; optional when base_url is set"},
		{Name: "base_url", Type: "string", Description: "OData service root overriding the tenant URL"},
		{Name: "start_date", Type: "date-time", Description: "Earliest replication key value for incremental streams"},
		{Name: "replication_keys", Type: "object", Description: "Replication key per stream; an empty value forces full table"},
		{Name: "replication_key_candidates", Type: "array", Default: def("replication_key_candidates"), Description: "Date-time property names tried, in order, as replication key"},
		{Name: "page_sizes", Type: "object", Description: "$top per entity set"},
		{Name: "default_page_size", Type: "integer", Default: def("default_page_size"), Description: "$top for entity sets without a specific size"},
		{Name: "requests_per_second", Type: "number", Default: def("requests_per_second"), Description: "Request rate limit; 0 disables limiting"},
		{Name: "rate_burst", Type: "integer", Default: def("rate_burst"), Description: "Request burst size"},
		{Name: "max_retries", Type: "integer", Default: def("max_retries"), Description: "Retries for throttled, failed or unavailable requests"},
		{Name: "request_timeout", Type: "integer", Default: def("request_timeout"), Description: "Per-request timeout in seconds"},
		{Name: "validate_records", Type: "boolean", Description: "Log records that do not match their stream schema"},
		{Name: "state_backend", Type: "string", Description: "State persistence: none, file, sqlite or postgres"},
		{Name: "state_uri", Type: "string", Description: "State file path or database connection string"},
		{Name: "user_agent", Type: "string", Default: def("user_agent"), Description: "User-Agent header"},
	}
}
