package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"maildossier/models"
)

// System prompts describing the role the model plays for each task
const (
	AnalystRole = "You are a meticulous analyst specializing in email content extraction. " +
		"Analyze an email thread and produce a structured report with the exact sections: " +
		"Email Summaries, Meeting Agenda, Meeting Date & Time, Final Conclusion, Client Name, Product Name, Product Domain. " +
		"When determining Client Name, extract ONLY the company name without any additional context, explanations, or parenthetical remarks. " +
		"First check explicit mentions in the email bodies or signatures. " +
		"If not clearly stated, infer the Client Name from the sender/recipient email addresses and CC fields " +
		"(look for company names in domains like '@company.com' and convert them to proper names). " +
		"For example 'user@thehalalshack.com' becomes 'The Halal Shack' and 'user@techifysolutions.com' becomes 'Techify Solutions'. " +
		"Only output 'Unknown Client' if there is truly no clear company name in either the text or email addresses. " +
		"Write concise, information-dense outputs and only infer when clearly justified by the text or metadata."

	MeetingFlowRole = "You are a meeting flow writer. You turn fragmented notes and summaries into a coherent meeting preparation document. " +
		"Use the analysis as the primary source and do not invent facts. " +
		"Format output as clean, readable text without markdown formatting."

	relevanceRole = "You are a precise email triager. Respond with 'YES' or 'NO' as the first token, " +
		"optionally followed by a short rationale (one sentence)."
)

// ClientResearchRole is the system prompt for structuring client research
func ClientResearchRole(clientName, clientDomain string) string {
	return fmt.Sprintf("You are an expert client researcher. Create a comprehensive client dossier for '%s' (%s). "+
		"Focus on client background, industry context, business challenges, decision makers, "+
		"previous interactions, and strategic positioning. Use only verified client information "+
		"from the provided context. Do not invent or speculate about client details.", clientName, clientDomain)
}

// RelevanceRole is the system prompt for deciding whether an email is about topic
func RelevanceRole(topic string) string {
	return fmt.Sprintf("Decide if the email is truly about the product/service/concept '%s', "+
		"including its reasonable variations, abbreviations, informal names, and closely related references. "+
		"Use context and intent, not exact string match. %s", topic, relevanceRole)
}

// Chatter is a Completer that also accepts a system prompt
type Chatter interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// Ask sends prompt under the given system role. Backends without system
// prompt support get the role prepended to the prompt.
func Ask(ctx context.Context, c Completer, system, prompt string) (string, error) {
	if ch, ok := c.(Chatter); ok {
		return ch.Chat(ctx, Request{System: system, Prompt: prompt})
	}
	if system != "" {
		prompt = system + "\n\n" + prompt
	}
	return c.Complete(ctx, prompt)
}

// ThreadAnalysisPrompt asks for the sectioned report of one thread
func ThreadAnalysisPrompt(subject, content string) string {
	if subject == "" {
		subject = "No Subject"
	}
	return "You are given a single email thread. Read every email carefully and produce a comprehensive, well-structured analysis.\n\n" +
		"Rules:\n" +
		"- Always return the sections below in the exact order and with the exact headings.\n" +
		"- If the thread has only one email, do NOT write 'The first email says'. Write a direct summary instead.\n" +
		"- Be specific. Use concrete details (who, what, when, where, why) from the thread.\n" +
		"- If dates or times are ambiguous, infer the most likely time window and note uncertainty.\n" +
		"- Expand the Final Conclusion into 3-6 detailed sentences covering outcomes, next steps, blockers, decisions, and owners.\n" +
		"- Extract product information whenever present. If absent, return 'Unknown' and a plausible domain.\n" +
		"- Use bullet points for lists. Keep tone concise and professional.\n\n" +
		"Return exactly this template and fill it thoroughly:\n\n" +
		"**Email Summaries:**\n" +
		"- [One bullet per email in chronological order. Include sender, intent, key facts, and explicit asks/decisions.]\n\n" +
		"**Meeting Agenda:**\n" +
		"- [Bullet list of agenda items, discussion topics, action items, blockers, owners]\n\n" +
		"**Meeting Date & Time:**\n" +
		"- [All explicit or implied dates/times with timezone if present; otherwise note 'unspecified']\n\n" +
		"**Final Conclusion:**\n" +
		"- [3-6 sentences summarizing the outcome, context, decisions, stakeholders, next steps, and deadlines.]\n\n" +
		"**Client Name:** [If present; else 'Unknown Client']\n" +
		"**Product Name:** [If present; else 'Unknown']\n" +
		"**Product Domain:** [If present; else best-guess domain, e.g., 'SaaS', 'HR tech', 'payments']\n\n" +
		"--- EMAIL THREAD CONTENT (verbatim) ---\n" +
		"Subject: " + subject + "\n" + content
}

const groupedSchema = `{
  "groups": [
    {
      "title": "string",
      "thread_subjects": ["string"],
      "email_summaries": ["string"],
      "meeting_agenda": ["string"],
      "meeting_date_time": ["string"],
      "final_conclusion": "string",
      "products": [ { "client_name": "string", "product_name": "string", "product_domain": "string" } ]
    }
  ],
  "global_summary": {
    "final_conclusion": "string",
    "products": [ { "client_name": "string", "product_name": "string", "product_domain": "string" } ]
  }
}`

// GroupedAnalysisPrompt asks for the topical grouping of several threads as JSON
func GroupedAnalysisPrompt(threadCount int, subjects []string, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are given %d email threads. Analyze all emails together. ", threadCount)
	b.WriteString("Your job is to intelligently group emails by topics such as product/service discussed, meeting agendas, " +
		"feature requests, demos/sales, bug reports, and general queries. " +
		"If two threads reference the same product or meeting, group them together.\n\n")
	b.WriteString("Thread Subjects:\n")
	for _, s := range subjects {
		b.WriteString("- " + s + "\n")
	}
	b.WriteString("\nOutput STRICTLY as minified JSON following this schema (no markdown, no prose, just JSON):\n")
	b.WriteString(groupedSchema)
	b.WriteString("\n\nRules:\n" +
		"- Provide clear human-readable group titles.\n" +
		"- For each group, include thread_subjects that contributed.\n" +
		"- Extract meeting_agenda and meeting_date_time where present.\n" +
		"- Include a group-specific final_conclusion.\n" +
		"- In global_summary, add a high-level final_conclusion and consolidated products/domains.\n\n")
	b.WriteString("EMAIL CONTENT START\n" + content + "\nEMAIL CONTENT END")
	return b.String()
}

// MeetingFlowFallback is returned when the model cannot produce a meeting flow
const MeetingFlowFallback = `Meeting Flow Dossier

Meeting Objectives
- Review meeting objectives from email content

Meeting Context
Meeting context extracted from email thread analysis.

Key Discussion Points for Meeting
- Key points that need to be discussed in the meeting

Decisions Required
- Decisions that need to be made during the meeting

Current Blockers to Address
- Any blockers or issues that need resolution

Proposed Meeting Agenda
1. First agenda item
2. Second agenda item
3. Additional items as needed

Next Steps & Owners (Post-Meeting)
- Action items and their owners

Meeting Process Improvements
- Process improvement suggestions`

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

// MetadataText renders the thread metadata carried by payload, single or
// combined, or "" when there is none
func MetadataText(p *models.AnalysisPayload) string {
	var b strings.Builder
	switch {
	case p.ThreadMetadata != nil:
		m := p.ThreadMetadata
		b.WriteString("\nTHREAD METADATA:\n")
		fmt.Fprintf(&b, "- Thread ID: %s\n", m.ThreadID)
		fmt.Fprintf(&b, "- Subject: %s\n", m.Subject)
		fmt.Fprintf(&b, "- Number of Emails in Thread: %d\n", m.MessageCount)
		fmt.Fprintf(&b, "- First Email Date: %s\n", orNA(m.FirstEmailDate))
		fmt.Fprintf(&b, "- Last Email Date: %s\n", orNA(m.LastEmailDate))
	case p.CombinedMetadata != nil:
		m := p.CombinedMetadata
		b.WriteString("\nCOMBINED THREADS METADATA:\n")
		fmt.Fprintf(&b, "- Total Threads: %d\n", m.ThreadCount)
		fmt.Fprintf(&b, "- First Email Date: %s\n", orNA(m.FirstEmailDate))
		fmt.Fprintf(&b, "- Last Email Date: %s\n", orNA(m.LastEmailDate))
		b.WriteString("\nINDIVIDUAL THREADS:\n")
		for i, t := range m.Threads {
			fmt.Fprintf(&b, "\nThread %d: %s\n", i+1, t.Subject)
			fmt.Fprintf(&b, "  - ID: %s\n", t.ThreadID)
			fmt.Fprintf(&b, "  - Messages: %d\n", t.MessageCount)
			fmt.Fprintf(&b, "  - Date Range: %s to %s\n", orNA(t.FirstEmailDate), orNA(t.LastEmailDate))
		}
	}
	return b.String()
}

// MeetingSource bundles the metadata and analysis of payload, metadata first
func MeetingSource(p *models.AnalysisPayload) string {
	var sections []string
	if p.StructuredAnalysis != nil {
		if data, err := json.MarshalIndent(p.StructuredAnalysis, "", "  "); err == nil {
			sections = append(sections, "STRUCTURED ANALYSIS:\n"+string(data))
		} else {
			sections = append(sections, "STRUCTURED ANALYSIS (unserializable) provided")
		}
	}
	if raw := p.Text(); raw != "" {
		sections = append(sections, "RAW ANALYSIS:\n"+raw)
	}

	analysis := strings.TrimSpace(strings.Join(sections, "\n\n"))
	if analysis == "" {
		analysis = "No analysis content provided."
	}
	if meta := MetadataText(p); meta != "" {
		return meta + "\n\n" + analysis
	}
	return analysis
}

// MeetingFlowPrompt asks for the forward-looking meeting preparation document
func MeetingFlowPrompt(source string) string {
	return "You are generating a 'Meeting Flow Dossier' to help prepare for an upcoming meeting based on email discussions.\n\n" +
		"PURPOSE: This dossier should focus on MEETING PREPARATION - what needs to be discussed, decided, and accomplished in the meeting. " +
		"This is NOT a historical summary but a forward-looking meeting preparation guide.\n\n" +
		"CRITICAL: Return CLEAN PLAIN TEXT only. Do NOT use markdown symbols like #, ##, *, or **. " +
		"Do NOT use typographic dashes or quotes. Use simple dashes and apostrophes.\n\n" +
		"CONTENT REQUIREMENTS:\n" +
		"- Focus on FUTURE ACTIONS and meeting preparation, not past summaries\n" +
		"- Identify what needs to be DISCUSSED, DECIDED, or RESOLVED in the meeting\n" +
		"- Extract unresolved issues, pending decisions, and action items from emails\n" +
		"- Create a practical meeting agenda based on email discussions\n" +
		"- Look for any mentioned meeting dates, times, or scheduling information in the emails\n" +
		"- Suggest meeting process improvements based on email communication patterns\n\n" +
		"Return exactly this structure in PLAIN TEXT format:\n\n" +
		"Meeting Flow Dossier\n\n" +
		"Meeting Date and Time\n" +
		"- [Extract any mentioned meeting date, time, or scheduling information from the emails. If no specific date/time is mentioned, omit this entire section]\n\n" +
		"Meeting Objectives\n" +
		"- [Specific objectives for the upcoming meeting based on email discussions]\n\n" +
		"Meeting Context\n" +
		"[Brief context paragraph explaining why this meeting is needed and what needs to be addressed]\n\n" +
		"Key Discussion Points for Meeting\n" +
		"- [Main topics that need to be discussed in the meeting]\n\n" +
		"Decisions Required\n" +
		"- [Specific decisions that need to be made during the meeting]\n\n" +
		"Current Blockers to Address\n" +
		"- [Issues or blockers that need resolution in the meeting]\n\n" +
		"Proposed Meeting Agenda\n" +
		"1. [First agenda item]\n" +
		"2. [Second agenda item]\n" +
		"3. [Additional items as needed]\n\n" +
		"Next Steps & Owners (Post-Meeting)\n" +
		"- [Actions that should be assigned during the meeting]\n\n" +
		"Meeting Process Improvements\n" +
		"- [Suggestions to make the meeting more effective]\n\n" +
		"SOURCE MATERIAL START\n" + source + "\nSOURCE MATERIAL END"
}

// ClientResearchPrompt asks the research backend about a company
func ClientResearchPrompt(clientName string) string {
	return fmt.Sprintf("Do intensive research on the company %s and give me a massive report on everything you find.", clientName)
}

// ClientDossierPrompt asks for the research to be structured into the
// fixed client dossier headings
func ClientDossierPrompt(clientName, research, clientContext string) string {
	if clientContext == "" {
		clientContext = "No additional context provided."
	}
	return "Write a client dossier for the company " + clientName + ".\n\n" +
		"Return MARKDOWN only, with the exact headings (in this order):\n" +
		"# Client Dossier: " + clientName + "\n" +
		"## Executive Summary\n" +
		"## Company Overview\n" +
		"## Industry & Market Position\n" +
		"## Business Challenges & Pain Points\n" +
		"## Key Decision Makers & Stakeholders\n" +
		"## Previous Interactions & History\n" +
		"## Strategic Opportunities\n" +
		"## Recommended Approach\n\n" +
		"PERPLEXITY RESEARCH START\n" + research + "\nPERPLEXITY RESEARCH END\n\n" +
		"ADDITIONAL CONTEXT START\n" + clientContext + "\nADDITIONAL CONTEXT END\n\n" +
		"Use the PERPLEXITY RESEARCH and ADDITIONAL CONTEXT sections above to write the dossier. " +
		"Structure the information into the specified sections. If information for a section is missing, " +
		"write 'Information not available in research.' for that section. " +
		"Do NOT invent facts about the client."
}

// AliasPrompt asks for informal names of a search keyword
func AliasPrompt(base string) string {
	return "Given the term '" + base + "', list 5-10 likely variations, abbreviations, and informal names. " +
		"Return one per line without numbering or extra text."
}
