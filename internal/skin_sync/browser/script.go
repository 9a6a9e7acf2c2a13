package browser

import "encoding/json"

// clickScript 找到第一个可见、未禁用的元素并点击；texts 非空时还要求文字匹配
func clickScript(selector string, texts []string) string {
	sel, _ := json.Marshal(selector)
	if texts == nil {
		texts = []string{}
	}
	tx, _ := json.Marshal(texts)
	return `(() => {
  const texts = ` + string(tx) + `;
  const els = Array.from(document.querySelectorAll(` + string(sel) + `));
  const hit = els.find(el => {
    if (el.disabled || el.classList.contains('disabled') || el.classList.contains('is-disabled')) return false;
    if (el.offsetParent === null && getComputedStyle(el).position !== 'fixed') return false;
    if (!texts.length) return true;
    const t = (el.innerText || el.textContent || '').trim();
    return texts.some(x => t.includes(x));
  });
  if (!hit) return false;
  hit.click();
  return true;
})()`
}
