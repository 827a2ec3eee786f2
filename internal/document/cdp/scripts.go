package cdp

import (
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/caseinv/internal/document"
)

// refAttr marks every element handed out, so later calls can find it again.
// Refs carry a per-load token; a ref from before a navigation never resolves
// to a node of the new page.
const refAttr = "data-caseinv-ref"

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s) // marshalling a string cannot fail
	return string(b)
}

func refSelector(ref string) string {
	return fmt.Sprintf("[%s=%s]", refAttr, jsString(ref))
}

// rootExpr evaluates to the query root: the document, or the element with
// ref (null once it left the page).
func rootExpr(ref string) string {
	if ref == "" {
		return "document"
	}
	return "document.querySelector(" + jsString(refSelector(ref)) + ")"
}

type queryResult struct {
	Gone bool     `json:"gone"`
	Refs []string `json:"refs"`
}

func queryScript(ref, selector string, all bool) string {
	pick := "[root.querySelector(sel)].filter(Boolean)"
	if all {
		pick = "Array.from(root.querySelectorAll(sel))"
	}
	return fmt.Sprintf(`(() => {
  const root = %s;
  if (!root) return {gone: true, refs: []};
  const sel = %s;
  const attr = %s;
  window.__caseinvLoad = window.__caseinvLoad || Math.random().toString(36).slice(2);
  return {gone: false, refs: %s.map(el => {
    if (!el.hasAttribute(attr)) {
      window.__caseinvSeq = (window.__caseinvSeq || 0) + 1;
      el.setAttribute(attr, window.__caseinvLoad + "-" + window.__caseinvSeq);
    }
    return el.getAttribute(attr);
  })};
})()`, rootExpr(ref), jsString(selector), jsString(refAttr), pick)
}

type valueResult struct {
	Gone  bool   `json:"gone"`
	OK    bool   `json:"ok"`
	Value string `json:"value"`
}

// valueScript reads the property name, falling back to the attribute.
func valueScript(ref, name string) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return {gone: true};
  const name = %s;
  let v = el[name];
  if (v === undefined || v === null) {
    v = el.getAttribute(name);
    if (v === null) return {gone: false, ok: false, value: ""};
  }
  return {gone: false, ok: true, value: String(v)};
})()`, rootExpr(ref), jsString(name))
}

type textResult struct {
	Gone bool   `json:"gone"`
	Text string `json:"text"`
}

// textScript reads DOM text, ignoring CSS text-transform.
func textScript(ref string) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return {gone: true, text: ""};
  return {gone: false, text: (el.textContent || "").trim()};
})()`, rootExpr(ref))
}

type actResult struct {
	Gone bool `json:"gone"`
}

// writeScript assigns through the native value setter so controlled inputs
// see the change, then emits input, change, focus and blur.
func writeScript(ref, value string) string {
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return {gone: true};
  const v = %s;
  const desc = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), "value");
  if (desc && desc.set) desc.set.call(el, v); else el.value = v;
  for (const type of ["input", "change", "focus", "blur"]) {
    el.dispatchEvent(new Event(type, {bubbles: true}));
  }
  return {gone: false};
})()`, rootExpr(ref), jsString(value))
}

// eventsFor lists the mouse events that make up an interaction.
func eventsFor(in document.Interaction) ([]string, error) {
	switch in {
	case document.Click:
		return []string{"click"}, nil
	case document.Open:
		return []string{"mousedown", "mouseup"}, nil
	default:
		return nil, fmt.Errorf("unsupported interaction %q", in)
	}
}

func dispatchScript(ref string, events []string) string {
	list, _ := json.Marshal(events) // a string slice cannot fail
	return fmt.Sprintf(`(() => {
  const el = %s;
  if (!el) return {gone: true};
  for (const type of %s) {
    el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window, button: 0}));
  }
  return {gone: false};
})()`, rootExpr(ref), list)
}

// observeScript installs the mutation counter once per page load and returns
// its value. Attribute changes are not observed, so ref marking is silent.
const observeScript = `(() => {
  if (typeof window.__caseinvChanges !== "number") {
    window.__caseinvChanges = 0;
    new MutationObserver(() => { window.__caseinvChanges++; })
      .observe(document.documentElement, {childList: true, subtree: true, characterData: true});
  }
  return window.__caseinvChanges;
})()`

func notifyScript(msg string) string {
	return fmt.Sprintf(`(() => { setTimeout(() => window.alert(%s), 0); return true; })()`, jsString(msg))
}

func openScript(url string) string {
	return fmt.Sprintf(`(() => { window.open(%s, "_blank", "noopener"); return true; })()`, jsString(url))
}
