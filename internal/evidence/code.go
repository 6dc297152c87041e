package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// CodeExtractor produces claims from smart-contract source (Solidity/Vyper
// style) or, as a fallback, from raw deployed bytecode. Claims cover contract
// declarations, per-function signatures, security-relevant statement lines,
// and synthesized absence claims for critical functions missing a compliance
// gate.
type CodeExtractor struct{}

var (
	contractRe = regexp.MustCompile(`\b(contract|interface|library)\s+(\w+)`)
	functionRe = regexp.MustCompile(`\bfunction\s+(\w+)\s*\(`)
	pragmaRe   = regexp.MustCompile(`pragma\s+\w+\s+[^;]+`)
)

// criticalFuncKeywords marks functions that move value or change supply;
// these are the ones compliance gates must cover.
var criticalFuncKeywords = []string{
	"mint", "burn", "transfer", "withdraw", "deposit", "redeem",
	"pause", "unpause", "upgrade", "rescue", "liquidate", "borrow",
}

// complianceGateKeywords are modifier/require markers that indicate an
// identity or allowlist gate is present on the line or its signature.
var complianceGateKeywords = []string{
	"kyc", "whitelist", "allowlist", "onlyverified", "accredited", "compliance",
}

// securityKeywordLines lists statement-level keywords worth surfacing as
// claims. Grouping follows the classic external-call / oracle / time-source
// split.
var securityKeywordLines = []string{
	".call(", ".call{", "delegatecall", "selfdestruct", "tx.origin",
	"block.timestamp", "block.number", "oracle", "pricefeed", "price_feed",
	"latestanswer", "latestrounddata", "getprice", "totalsupply", "collateral",
	"reserve", "chainlink",
}

func (e *CodeExtractor) Extract(name string, content []byte) ([]Claim, error) {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if looksLikeBytecode(text) {
		return bytecodeClaims(name, content), nil
	}

	var claims []Claim
	lines := strings.Split(text, "\n")

	type fn struct {
		name  string
		line  int
		gated bool
	}
	var functions []fn

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		lineNo := i + 1
		lower := strings.ToLower(line)

		if m := pragmaRe.FindString(line); m != "" {
			claims = append(claims, Claim{
				Text: "declares " + m,
				Loc:  Locator{File: name, Line: lineNo},
			})
		}
		if m := contractRe.FindStringSubmatch(line); m != nil {
			claims = append(claims, Claim{
				Text: fmt.Sprintf("declares %s %s", m[1], m[2]),
				Loc:  Locator{File: name, Line: lineNo},
			})
		}
		if m := functionRe.FindStringSubmatch(line); m != nil {
			fname := m[1]
			vis := visibilityOf(lower)
			sig := fmt.Sprintf("function %s visibility=%s", fname, vis)
			if strings.Contains(lower, "payable") {
				sig += " payable"
			}
			if mods := gateModifiers(lower); len(mods) > 0 {
				sig += " gated-by=" + strings.Join(mods, ",")
			}
			claims = append(claims, Claim{
				Text: sig,
				Loc:  Locator{File: name, Line: lineNo},
			})
			functions = append(functions, fn{name: fname, line: lineNo, gated: len(gateModifiers(lower)) > 0})
			continue
		}
		for _, kw := range securityKeywordLines {
			if strings.Contains(lower, kw) {
				claims = append(claims, Claim{
					Text: "statement uses " + kw + ": " + line,
					Loc:  Locator{File: name, Line: lineNo},
				})
				break
			}
		}
	}

	// Absence claims: a critical function with no compliance gate anywhere in
	// its signature is stated explicitly so trigger predicates can anchor on it.
	for _, f := range functions {
		if !isCriticalFunction(f.name) || f.gated {
			continue
		}
		claims = append(claims, Claim{
			Text: fmt.Sprintf("no KYC check in %s", f.name),
			Loc:  Locator{File: name, Line: f.line},
		})
	}

	return claims, nil
}

func visibilityOf(lower string) string {
	for _, v := range []string{"external", "public", "internal", "private"} {
		if strings.Contains(lower, v) {
			return v
		}
	}
	return "unknown"
}

func gateModifiers(lower string) []string {
	var mods []string
	for _, kw := range complianceGateKeywords {
		if strings.Contains(lower, kw) {
			mods = append(mods, kw)
		}
	}
	return mods
}

func isCriticalFunction(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range criticalFuncKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// looksLikeBytecode detects hex-encoded deployed code (with or without 0x).
func looksLikeBytecode(text string) bool {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "0x")
	if len(s) < 8 || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// bytecodeClaims states what can be said about raw deployed code: that it
// exists, its size, and its hash. Enough for asset-mapping patterns to check
// that a token contract is actually deployed.
func bytecodeClaims(name string, content []byte) []Claim {
	s := strings.TrimPrefix(strings.TrimSpace(string(content)), "0x")
	sum := sha256.Sum256([]byte(s))
	return []Claim{
		{
			Text: fmt.Sprintf("deployed bytecode present, %d bytes", len(s)/2),
			Loc:  Locator{File: name, Line: 1},
		},
		{
			Text: "bytecode sha256 " + hex.EncodeToString(sum[:8]),
			Loc:  Locator{File: name, Line: 1},
		},
	}
}
