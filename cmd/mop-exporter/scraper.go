/******************************************************************************
 *
 *  Description :
 *    Scraper fetches the raw expvar JSON published by a running central
 *    post office's /debug/vars endpoint.
 *
 *****************************************************************************/
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/SlightlyLoony/MOP/logs"
)

// Scraper fetches metrics from one central post office's /debug/vars.
type Scraper struct {
	address string
	client  *http.Client
}

var errKeyNotFound = errors.New("key not found")

// Scrape fetches and decodes the expvar JSON document.
func (s *Scraper) Scrape() (map[string]interface{}, error) {
	resp, err := s.client.Get(s.address)
	if err != nil {
		logs.Warning.Printf("exporter: scrape failed: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	var stats map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&stats)
	return stats, err
}

func parseMetric(stats map[string]interface{}, path string) (float64, error) {
	v, err := lookupDotted(stats, path)
	if err == errKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	floatval, ok := v.(float64)
	if !ok {
		logs.Warning.Printf("exporter: value at %q is not numeric: %v", path, v)
		return 0, errKeyNotFound
	}
	return floatval, nil
}

func lookupDotted(stats map[string]interface{}, path string) (interface{}, error) {
	parts := strings.Split(path, ".")
	var value interface{} = stats
	for _, part := range parts {
		subset, ok := value.(map[string]interface{})
		if !ok {
			return nil, errKeyNotFound
		}
		value, ok = subset[part]
		if !ok {
			return nil, errKeyNotFound
		}
	}
	return value, nil
}
