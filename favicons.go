/*
Copyright © 2025 WartaPoirier corp.
*/

package main

import (
	_ "embed"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

//go:embed favicons/favicon.svg
var faviconSVG []byte

func getFavicon() string {
	return `<link rel="icon" type="image/svg+xml" href="/favicon.svg">
	<meta name="theme-color" content="#ffffff">`
}

func serveFavicon(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "image/svg+xml")
		securityHeaders(cfg, w)

		_, err := w.Write(faviconSVG)
		if err != nil {
			errs <- err

			return
		}
	}
}
