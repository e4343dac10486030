package browser

// Scripts evaluated in the page. Element arguments are indexes into
// window.__bridgeRefs, which every snapshot rebuilds in document order.

const jsElement = `
	const __el = (ref) => {
		const el = (window.__bridgeRefs || [])[ref];
		if (!el || !el.isConnected) throw new Error('stale element ref ' + ref);
		return el;
	};
`

const jsSnapshot = `() => {
	const html = document.documentElement;
	const live = [html, ...html.querySelectorAll('*')];
	window.__bridgeRefs = live;
	const root = html.cloneNode(true);
	// refs pair by index, so both sides must start at <html>
	const copies = [root, ...root.querySelectorAll('*')];
	const n = Math.min(live.length, copies.length);
	for (let i = 0; i < n; i++) {
		const el = live[i];
		const c = copies[i];
		c.setAttribute('data-bridge-ref', String(i));
		const tag = el.tagName;
		if (tag === 'SCRIPT' || tag === 'STYLE' || tag === 'NOSCRIPT') {
			c.textContent = '';
			continue;
		}
		if (tag === 'INPUT' || tag === 'TEXTAREA' || tag === 'SELECT') {
			c.setAttribute('data-bridge-value', el.value == null ? '' : String(el.value));
		}
		if (tag === 'INPUT' && (el.type === 'checkbox' || el.type === 'radio')) {
			c.setAttribute('data-bridge-checked', el.checked ? 'true' : 'false');
		}
		if (tag === 'OPTION') {
			c.setAttribute('data-bridge-selected', el.selected ? 'true' : 'false');
			continue;
		}
		if (el.disabled === true) c.setAttribute('data-bridge-disabled', '');
		if (el.closest('head')) continue;
		if (typeof el.onclick === 'function') c.setAttribute('data-bridge-clickable', '');
		const cs = window.getComputedStyle(el);
		if (cs.display === 'none' || cs.visibility === 'hidden' ||
			(tag !== 'OPTGROUP' && tag !== 'HTML' && tag !== 'BODY' && el.getClientRects().length === 0)) {
			c.setAttribute('data-bridge-hidden', '');
		} else if (cs.cursor === 'pointer') {
			c.setAttribute('data-bridge-clickable', '');
		}
	}
	return { html: '<!DOCTYPE html>' + root.outerHTML, url: location.href, title: document.title };
}`

const jsElementAt = `(x, y) => {
	const el = document.elementFromPoint(x, y);
	if (!el) return -1;
	return (window.__bridgeRefs || []).indexOf(el);
}`

const jsDispatch = `(ref, kind, name, key, bubbles) => {` + jsElement + `
	const el = __el(ref);
	const r = el.getBoundingClientRect();
	const point = { clientX: r.left + r.width / 2, clientY: r.top + r.height / 2 };
	const base = { bubbles, cancelable: true, composed: true, view: window };
	let ev;
	switch (kind) {
	case 'pointer':
		ev = new PointerEvent(name, Object.assign({}, base, point, { pointerId: 1, pointerType: 'mouse', isPrimary: true, button: 0 }));
		break;
	case 'mouse':
		ev = new MouseEvent(name, Object.assign({}, base, point, { button: 0 }));
		break;
	case 'focus':
		ev = new FocusEvent(name, base);
		break;
	case 'keyboard':
		ev = new KeyboardEvent(name, Object.assign({}, base, { key }));
		break;
	case 'input':
		ev = new InputEvent(name, Object.assign({}, base, { inputType: 'insertText' }));
		break;
	default:
		ev = new Event(name, base);
	}
	el.dispatchEvent(ev);
	return true;
}`

const jsCall = `(ref, method) => {` + jsElement + `
	const el = __el(ref);
	switch (method) {
	case 'enable':
		if ('disabled' in el) el.disabled = false;
		el.removeAttribute('disabled');
		el.removeAttribute('aria-disabled');
		return true;
	case 'scrollIntoView':
		el.scrollIntoView({ block: 'center', inline: 'center', behavior: 'instant' });
		return true;
	}
	if (typeof el[method] !== 'function') throw new Error(el.tagName.toLowerCase() + ' has no method ' + method);
	el[method]();
	return true;
}`

const jsSetValue = `(ref, value) => {` + jsElement + `
	const el = __el(ref);
	if (el.isContentEditable) {
		el.textContent = value;
		return true;
	}
	let proto = HTMLInputElement.prototype;
	if (el instanceof HTMLTextAreaElement) proto = HTMLTextAreaElement.prototype;
	if (el instanceof HTMLSelectElement) proto = HTMLSelectElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) desc.set.call(el, value); else el.value = value;
	return true;
}`

const jsSetChecked = `(ref, checked) => {` + jsElement + `
	const el = __el(ref);
	const desc = Object.getOwnPropertyDescriptor(HTMLInputElement.prototype, 'checked');
	if (desc && desc.set) desc.set.call(el, checked); else el.checked = checked;
	return true;
}`

const jsSelectOption = `(ref, index) => {` + jsElement + `
	const el = __el(ref);
	if (!el.options || index < 0 || index >= el.options.length) throw new Error('option index ' + index + ' out of range');
	el.selectedIndex = index;
	el.options[index].selected = true;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

const jsSetFiles = `(ref, files) => {` + jsElement + `
	const el = __el(ref);
	const dt = new DataTransfer();
	for (const f of files) {
		const bin = atob(f.data);
		const bytes = new Uint8Array(bin.length);
		for (let i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
		dt.items.add(new File([bytes], f.name, { type: f.type }));
	}
	el.files = dt.files;
	return el.files.length;
}`

const jsStamp = `(ref, name, value) => {` + jsElement + `
	__el(ref).setAttribute(name, value);
	return true;
}`

const jsScrollBy = `(dx, dy) => { window.scrollBy(dx, dy); return true; }`

const jsScrollTo = `(position) => {
	const h = Math.max(document.documentElement.scrollHeight, document.body ? document.body.scrollHeight : 0);
	window.scrollTo(0, position === 'bottom' ? h : 0);
	return true;
}`

const jsInfo = `() => ({
	url: location.href,
	title: document.title,
	width: window.innerWidth,
	height: window.innerHeight,
	scrollX: window.scrollX,
	scrollY: window.scrollY,
	scrollWidth: document.documentElement.scrollWidth,
	scrollHeight: document.documentElement.scrollHeight
})`
