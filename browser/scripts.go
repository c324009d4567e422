package browser

import (
	"encoding/json"
	"fmt"
	"strings"
)

// prelude defines the helpers shared by every script. It is evaluated in the
// top document; frames are reached through contentDocument, so cross-origin
// frames are reported as skipped.
const prelude = `
const RF = (() => {
  const REF = 'data-replay-ref';
  const SKIP = new Set(['script','style','noscript','template','head','meta','link','title','html','body','br','svg','path']);
  const CLICKABLE = new Set(['button','a','summary','option']);
  const TEXTLIKE = new Set(['', 'text','email','password','search','tel','url','number','date','datetime-local','month','week','time']);
  const norm = s => (s || '').replace(/\s+/g, ' ').trim();
  const frames = doc => Array.from(doc.querySelectorAll('iframe,frame'));

  function docAt(path) {
    let doc = document, offX = 0, offY = 0;
    for (const i of path) {
      const f = frames(doc)[i];
      if (!f) return null;
      let next = null;
      try { next = f.contentDocument; } catch (e) { next = null; }
      if (!next) return null;
      const r = f.getBoundingClientRect();
      offX += r.left + (f.clientLeft || 0);
      offY += r.top + (f.clientTop || 0);
      doc = next;
    }
    return { doc, offX, offY };
  }

  function walk(maxDepth, visit) {
    const skipped = [];
    let count = 0;
    const rec = (doc, path, offX, offY) => {
      count++;
      visit(doc, path, offX, offY);
      if (path.length >= maxDepth) return;
      frames(doc).forEach((f, i) => {
        const sub = path.concat([i]);
        let next = null;
        try { next = f.contentDocument; } catch (e) { next = null; }
        if (!next || !next.documentElement) { skipped.push(sub.join('/')); return; }
        const r = f.getBoundingClientRect();
        rec(next, sub, offX + r.left + (f.clientLeft || 0), offY + r.top + (f.clientTop || 0));
      });
    };
    rec(document, [], 0, 0);
    return { frames: count, skipped };
  }

  function visible(el) {
    const win = el.ownerDocument.defaultView;
    if (!win) return false;
    const st = win.getComputedStyle(el);
    if (st.display === 'none' || st.visibility === 'hidden' || st.visibility === 'collapse') return false;
    if (parseFloat(st.opacity) === 0) return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  }

  function ref(el) {
    let r = el.getAttribute(REF);
    if (!r) {
      window.__replayRefSeq = (window.__replayRefSeq || 0) + 1;
      r = 'r' + window.__replayRefSeq;
      el.setAttribute(REF, r);
    }
    return r;
  }

  function domPath(el) {
    const parts = [];
    for (let n = el; n && n.parentElement; n = n.parentElement) {
      parts.unshift(Array.prototype.indexOf.call(n.parentElement.children, n));
    }
    return parts.join('/');
  }

  function count(doc, sel) {
    try { return doc.querySelectorAll(sel).length; } catch (e) { return 0; }
  }

  function editable(el) {
    const tag = el.tagName.toLowerCase();
    if (tag === 'textarea') return true;
    if (tag === 'input') return TEXTLIKE.has((el.getAttribute('type') || '').toLowerCase());
    return el.isContentEditable === true;
  }

  function interesting(el) {
    const tag = el.tagName.toLowerCase();
    if (SKIP.has(tag)) return false;
    if (CLICKABLE.has(tag) || tag === 'input' || tag === 'textarea' || tag === 'select' || tag === 'label') return true;
    if (el.getAttribute('role') || el.getAttribute('aria-label') || el.getAttribute('title') ||
        el.getAttribute('placeholder') || el.getAttribute('name') || el.isContentEditable) return true;
    for (const n of el.childNodes) {
      if (n.nodeType === 3 && norm(n.textContent)) return true;
    }
    return false;
  }

  function describe(el, path, offX, offY) {
    const doc = el.ownerDocument;
    const tag = el.tagName.toLowerCase();
    const classes = Array.from(el.classList || []);
    const id = el.id || '';
    const name = el.getAttribute('name') || '';
    const type = (el.getAttribute('type') || '').toLowerCase();
    let text = '';
    if (tag === 'input' && (type === 'submit' || type === 'button' || type === 'reset')) {
      text = norm(el.value);
    } else {
      text = norm(el.innerText !== undefined ? el.innerText : el.textContent);
    }
    const truncated = text.length > 300;
    if (truncated) text = text.slice(0, 300);
    const own = norm(Array.from(el.childNodes).filter(n => n.nodeType === 3).map(n => n.textContent).join(' '));
    const r = el.getBoundingClientRect();
    return {
      ref: ref(el),
      frame: path,
      domPath: domPath(el),
      tag, id, classes, name, type,
      role: el.getAttribute('role') || '',
      idCount: id ? count(doc, '#' + CSS.escape(id)) : 0,
      classCount: classes.length ? count(doc, tag + classes.map(c => '.' + CSS.escape(c)).join('')) : 0,
      nameCount: name ? count(doc, tag + '[name="' + name.replace(/["\\]/g, '\\$&') + '"]') : 0,
      tagCount: doc.getElementsByTagName(tag).length,
      ownText: own,
      text,
      textTruncated: truncated,
      value: typeof el.value === 'string' ? el.value : '',
      ariaLabel: el.getAttribute('aria-label') || '',
      title: el.getAttribute('title') || '',
      placeholder: el.getAttribute('placeholder') || '',
      editable: editable(el),
      visible: visible(el),
      rect: { x: r.left + offX, y: r.top + offY, width: r.width, height: r.height },
    };
  }

  function find(path, r) {
    const loc = docAt(path);
    if (!loc) return null;
    return loc.doc.querySelector('[' + REF + '="' + r + '"]');
  }

  function control(el) {
    if (editable(el) || el.tagName.toLowerCase() === 'select') return el;
    if (el.tagName.toLowerCase() === 'label') {
      if (el.control) return el.control;
      const f = el.getAttribute('for');
      if (f) {
        const t = el.ownerDocument.getElementById(f);
        if (t) return t;
      }
    }
    const inner = el.querySelector('input,textarea,select,[contenteditable="true"]');
    return inner || el;
  }

  function fire(el, names) {
    for (const n of names) el.dispatchEvent(new Event(n, { bubbles: true }));
  }

  const viewport = () => ({ width: window.innerWidth, height: window.innerHeight });

  return { walk, describe, find, control, fire, editable, viewport, norm, docAt, interesting, count };
})();
`

// MaxScanElements caps the nodes a snapshot inspects per document. Documents
// that hit the cap are listed in Snapshot.Truncated.
const MaxScanElements = 5000

const snapshotFn = `function(maxDepth, maxElements) {
  const elements = [];
  const truncated = [];
  const res = RF.walk(maxDepth, (doc, path, offX, offY) => {
    const all = doc.querySelectorAll('*');
    if (all.length > maxElements) truncated.push(path.join('/'));
    for (let i = 0; i < all.length && i < maxElements; i++) {
      const el = all[i];
      if (!RF.interesting(el)) continue;
      elements.push(RF.describe(el, path, offX, offY));
    }
  });
  return { elements, viewport: RF.viewport(), frames: res.frames, skipped: res.skipped, truncated };
}`

const queryFn = `function(selector, maxDepth) {
  const elements = [];
  let error = '';
  const res = RF.walk(maxDepth, (doc, path, offX, offY) => {
    if (error) return;
    let found;
    try { found = doc.querySelectorAll(selector); } catch (e) { error = String(e); return; }
    found.forEach(el => elements.push(RF.describe(el, path, offX, offY)));
  });
  return { elements, viewport: RF.viewport(), frames: res.frames, skipped: res.skipped, error };
}`

const visibleTextFn = `function(maxDepth) {
  const parts = [];
  RF.walk(maxDepth, doc => { if (doc.body) parts.push(doc.body.innerText || ''); });
  return parts.join('\n');
}`

const clickPointFn = `function(path, ref) {
  const el = RF.find(path, ref);
  if (!el) return { found: false };
  el.scrollIntoView({ block: 'center', inline: 'center' });
  const loc = RF.docAt(path);
  const r = el.getBoundingClientRect();
  const x = r.left + r.width / 2, y = r.top + r.height / 2;
  const hit = el.ownerDocument.elementFromPoint(x, y);
  const clear = !!hit && (hit === el || el.contains(hit));
  return { found: true, clear, x: x + loc.offX, y: y + loc.offY };
}`

const domClickFn = `function(path, ref) {
  const el = RF.find(path, ref);
  if (!el) return false;
  el.click();
  return true;
}`

const prepareTypeFn = `function(path, ref, clearFirst) {
  const found = RF.find(path, ref);
  if (!found) return { found: false };
  const el = RF.control(found);
  el.scrollIntoView({ block: 'center' });
  el.focus();
  const ce = !('value' in el) && el.isContentEditable;
  if (clearFirst) {
    if (ce) { el.textContent = ''; } else { el.value = ''; }
    RF.fire(el, ['input']);
  } else if (!ce && typeof el.setSelectionRange === 'function') {
    try { el.setSelectionRange(el.value.length, el.value.length); } catch (e) {}
  }
  return { found: true, editable: RF.editable(el), contentEditable: ce };
}`

const finishTypeFn = `function(path, ref) {
  const found = RF.find(path, ref);
  if (!found) return { value: '', verifiable: false };
  const el = RF.control(found);
  RF.fire(el, ['change']);
  const ce = !('value' in el) && el.isContentEditable;
  return { value: ce ? (el.textContent || '') : (el.value || ''), verifiable: !ce };
}`

const setValueFn = `function(path, ref, text) {
  const found = RF.find(path, ref);
  if (!found) return false;
  const el = RF.control(found);
  if (!('value' in el)) return false;
  el.value = text;
  RF.fire(el, ['input', 'change']);
  return true;
}`

const selectFn = `function(path, ref, value) {
  const found = RF.find(path, ref);
  if (!found) return { native: false, selected: false, options: [] };
  const el = RF.control(found);
  if (el.tagName.toLowerCase() !== 'select') return { native: false, selected: false, options: [] };
  const opts = Array.from(el.options);
  const labels = opts.map(o => RF.norm(o.text));
  const want = RF.norm(value);
  let idx = labels.indexOf(want);
  if (idx < 0) idx = opts.findIndex(o => o.value === value);
  if (idx < 0) idx = labels.findIndex(l => l.toLowerCase().includes(want.toLowerCase()));
  if (idx < 0) return { native: true, selected: false, options: labels };
  el.selectedIndex = idx;
  RF.fire(el, ['input', 'change']);
  return { native: true, selected: true, matched: labels[idx], options: labels };
}`

const scrollIntoViewFn = `function(path, ref) {
  const el = RF.find(path, ref);
  if (!el) return false;
  el.scrollIntoView({ block: 'center' });
  return true;
}`

const scrollByFn = `function(dx, dy) {
  window.scrollBy(dx, dy);
  return true;
}`

const readyStateFn = `function() { return document.readyState; }`

// script builds an expression invoking fn with JSON-encoded arguments
func script(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(() => {%s\nreturn (%s)(%s);\n})()", prelude, fn, strings.Join(encoded, ", ")), nil
}
