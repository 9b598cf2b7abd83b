package upstox

// apiEnvelope is the common Upstox v2 response wrapper.
type apiEnvelope struct {
	Status string `json:"status"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errors,omitempty"`
}

// ltpEntry is one instrument's quote in a market-quote/ltp response.
type ltpEntry struct {
	LastPrice      float64 `json:"last_price"`
	InstrumentKey  string  `json:"instrument_token"`
	TradingSymbol  string  `json:"symbol"`
	LastTradedTime int64   `json:"last_traded_time,omitempty"`
}

// ltpResponse is the market-quote/ltp payload.
type ltpResponse struct {
	apiEnvelope
	Data map[string]ltpEntry `json:"data"`
}

// Contract is one listed option contract from the option/contract endpoint.
type Contract struct {
	InstrumentKey  string  `json:"instrument_key"`
	TradingSymbol  string  `json:"trading_symbol"`
	Expiry         string  `json:"expiry"` // "2006-01-02"
	StrikePrice    float64 `json:"strike_price"`
	InstrumentType string  `json:"instrument_type"` // "CE" | "PE"
	LotSize        int     `json:"lot_size"`
}

// contractResponse is the option/contract payload.
type contractResponse struct {
	apiEnvelope
	Data []Contract `json:"data"`
}

// feedAuthorizeResponse is the feed/market-data-feed/authorize payload.
type feedAuthorizeResponse struct {
	apiEnvelope
	Data struct {
		AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
	} `json:"data"`
}
