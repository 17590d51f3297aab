package connectors

import "fmt"

// BinanceErrorCodes maps Binance spot API error codes to human-readable messages.
var BinanceErrorCodes = map[int]string{
	-1000: "UNKNOWN",                    // Unknown error while processing request
	-1001: "DISCONNECTED",               // Internal error, unable to process
	-1002: "UNAUTHORIZED",               // Not authorized to execute request
	-1003: "TOO_MANY_REQUESTS",          // Request weight exceeded
	-1006: "UNEXPECTED_RESP",            // Unexpected response from message bus
	-1007: "TIMEOUT",                    // Timeout waiting for backend response
	-1013: "INVALID_MESSAGE",            // Filter failure (lot size, price filter...)
	-1015: "TOO_MANY_ORDERS",            // New order rate limit hit
	-1021: "INVALID_TIMESTAMP",          // Timestamp outside recvWindow
	-1022: "INVALID_SIGNATURE",          // Signature mismatch
	-1100: "ILLEGAL_CHARS",              // Illegal characters in parameter
	-1102: "MANDATORY_PARAM_EMPTY",      // Mandatory parameter missing or empty
	-1111: "BAD_PRECISION",              // Precision over maximum for symbol
	-1121: "BAD_SYMBOL",                 // Invalid symbol
	-2010: "NEW_ORDER_REJECTED",         // Order rejected (insufficient balance, filters...)
	-2011: "CANCEL_REJECTED",            // Cancel rejected, often unknown order
	-2013: "NO_SUCH_ORDER",              // Order does not exist
	-2014: "BAD_API_KEY_FMT",            // API key format invalid
	-2015: "REJECTED_MBX_KEY",           // Invalid key, IP, or permissions
	-2021: "ORDER_WOULD_IMMEDIATELY_MATCH", // Post-only order would match
}

func binanceErrorMessage(code int, msg string) string {
	if name, ok := BinanceErrorCodes[code]; ok {
		return fmt.Sprintf("%s (%d): %s", name, code, msg)
	}
	return fmt.Sprintf("code %d: %s", code, msg)
}
