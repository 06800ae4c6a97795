package web

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderDocument(t *testing.T) {
	doc := string(RenderDocument(`# Meeting Flow
## Objectives
- Confirm **scope**
* Agree on dates
• Assign owners

Close with next steps <script>alert(1)</script>
### Notes`))

	assert.Contains(t, doc, "<h3>Meeting Flow</h3>")
	assert.Contains(t, doc, "<h4>Objectives</h4>")
	assert.Contains(t, doc, "<h5>Notes</h5>")
	assert.Contains(t, doc, "<li>Confirm <strong>scope</strong></li>")
	assert.Contains(t, doc, "<li>Agree on dates</li>")
	assert.Contains(t, doc, "<li>Assign owners</li>")
	assert.Equal(t, 1, strings.Count(doc, "<ul>"))
	assert.Contains(t, doc, "<p>Close with next steps")
	assert.NotContains(t, doc, "<script>")
}

func TestRenderDocumentEmpty(t *testing.T) {
	assert.Empty(t, string(RenderDocument("  \n ")))
}
