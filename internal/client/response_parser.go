package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zmcp/tap-aptem/internal/constants"
	"github.com/zmcp/tap-aptem/internal/models"
)

// decodeJSON decodes data keeping numbers as json.Number so int64 keys and
// decimals survive unchanged.
func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// parsePage parses an entity set response, handling both v2 and v4 formats.
// An error member in a success body is reported as an HTTPError.
func parsePage(data []byte, statusCode int) (*models.Page, error) {
	var rawResponse map[string]interface{}
	if err := decodeJSON(data, &rawResponse); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if errorData, ok := rawResponse[constants.ODataError]; ok {
		httpErr := parseODataError(errorData)
		httpErr.StatusCode = statusCode
		return nil, httpErr
	}

	// OData v2 wraps results in a "d" property
	if d, ok := rawResponse[constants.V2Wrapper].(map[string]interface{}); ok {
		return parseV2Page(d)
	}
	return parseV4Page(rawResponse)
}

func parseV4Page(response map[string]interface{}) (*models.Page, error) {
	value, ok := response[constants.ODataValue]
	if !ok {
		return nil, fmt.Errorf("response has no %q member", constants.ODataValue)
	}
	records, err := toRecords(value)
	if err != nil {
		return nil, err
	}

	page := &models.Page{Records: records}
	if next, ok := response[constants.ODataNextLink].(string); ok {
		page.NextLink = next
	}
	return page, nil
}

func parseV2Page(d map[string]interface{}) (*models.Page, error) {
	results, ok := d[constants.V2Results]
	if !ok {
		return nil, fmt.Errorf("v2 response has no %q member", constants.V2Results)
	}
	records, err := toRecords(results)
	if err != nil {
		return nil, err
	}

	page := &models.Page{Records: records}
	if next, ok := d[constants.V2Next].(string); ok {
		page.NextLink = next
	}
	return page, nil
}

func toRecords(value interface{}) ([]map[string]interface{}, error) {
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("collection value is %T, want an array", value)
	}
	records := make([]map[string]interface{}, 0, len(items))
	for i, item := range items {
		record, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("collection item %d is %T, want an object", i, item)
		}
		records = append(records, record)
	}
	return records, nil
}

// parseODataError parses OData error payloads in v2 and v4 shape
func parseODataError(errorData interface{}) *HTTPError {
	errorBytes, _ := json.Marshal(errorData)

	var v2Error struct {
		Code    string `json:"code"`
		Message struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"message"`
	}
	if err := json.Unmarshal(errorBytes, &v2Error); err == nil && v2Error.Message.Value != "" {
		return &HTTPError{Code: v2Error.Code, Message: v2Error.Message.Value}
	}

	var v4Error models.ODataError
	if err := json.Unmarshal(errorBytes, &v4Error); err == nil && (v4Error.Message != "" || v4Error.Code != "") {
		return &HTTPError{Code: v4Error.Code, Message: v4Error.Message, Details: v4Error.Details}
	}

	return &HTTPError{Message: fmt.Sprintf("OData error: %s", string(errorBytes))}
}

// parseErrorBody builds an HTTPError from a non-success response body
func parseErrorBody(body []byte, statusCode int) *HTTPError {
	var errorResp map[string]interface{}
	if err := json.Unmarshal(body, &errorResp); err == nil {
		if errorData, ok := errorResp[constants.ODataError]; ok {
			httpErr := parseODataError(errorData)
			httpErr.StatusCode = statusCode
			return httpErr
		}
	}

	message := string(bytes.TrimSpace(body))
	if len(message) > 512 {
		message = message[:512] + "..."
	}
	return &HTTPError{StatusCode: statusCode, Message: message}
}
