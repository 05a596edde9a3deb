package core

import (
	"fmt"
	"regexp"
	"strings"

	"medtriage/medtriage/types"
	"medtriage/medtriage/utils/jsonutils"
)

const (
	greetingFallback = "Xin chào! Mình là trợ lý sàng lọc triệu chứng. Bạn đang gặp vấn đề sức khỏe gì?"
	refusalFallback  = "Xin lỗi, mình chỉ hỗ trợ các câu hỏi về triệu chứng và chăm sóc sức khỏe dựa trên y học chứng cứ. Bạn có triệu chứng nào cần mình xem giúp không?"
)

func greetingPrompt(in RunInput) string {
	var b strings.Builder
	b.WriteString("Bạn là trợ lý sàng lọc triệu chứng thân thiện. ")
	b.WriteString("Hãy trả lời ngắn gọn (1-2 câu) lời chào của người dùng và gợi ý họ mô tả triệu chứng nếu có.\n")
	if in.ContextWindow != "" {
		b.WriteString("Hội thoại trước đó:\n" + in.ContextWindow + "\n")
	}
	b.WriteString("Người dùng: " + in.Text)
	return b.String()
}

func refusalPrompt(in RunInput) string {
	var b strings.Builder
	b.WriteString("Bạn là trợ lý sàng lọc triệu chứng. Câu hỏi dưới đây nằm ngoài phạm vi hỗ trợ ")
	b.WriteString("(bảo hiểm, chi phí, hoặc phương pháp không dựa trên y học chứng cứ). ")
	b.WriteString("Hãy từ chối lịch sự trong 1-2 câu và hướng người dùng quay lại chủ đề triệu chứng sức khỏe.\n")
	b.WriteString("Người dùng: " + in.Text)
	return b.String()
}

func educationalPrompt(in RunInput, topic string, material []string) string {
	var b strings.Builder
	b.WriteString("Bạn là trợ lý y tế. Hãy giải thích ngắn gọn, dễ hiểu về chủ đề sau cho người không chuyên.\n")
	b.WriteString("CHỈ sử dụng thông tin trong phần TÀI LIỆU dưới đây; nếu tài liệu không đủ, hãy nói rõ là chưa có thông tin.\n")
	b.WriteString("Chủ đề: " + topic + "\n")
	b.WriteString("Câu hỏi: " + in.Text + "\n")
	b.WriteString("TÀI LIỆU:\n")
	if len(material) == 0 {
		b.WriteString("(không có)\n")
	}
	for _, m := range material {
		if strings.TrimSpace(m) == "" {
			continue
		}
		b.WriteString("- " + m + "\n")
	}
	b.WriteString("Kết thúc bằng lời nhắc đi khám nếu có triệu chứng thực tế.")
	return b.String()
}

func educationalFallback(topic string, material []string) string {
	if len(material) > 0 {
		return fmt.Sprintf("Thông tin về %s:\n%s\n\nNếu bạn đang có triệu chứng, hãy đến cơ sở y tế để được thăm khám.",
			topic, strings.Join(material, "\n"))
	}
	return fmt.Sprintf("Hiện chưa có thông tin về %q trong cơ sở kiến thức. Nếu bạn đang có triệu chứng, hãy mô tả cụ thể hoặc đến cơ sở y tế để được thăm khám.", topic)
}

// triagePrompt asks for the narrative plus a marked structured block the
// orchestrator can extract fields from.
func triagePrompt(in RunInput, it types.Intent, eval *types.Evaluation, top *types.CVPrediction, snippets []types.GuidelineSnippet) string {
	var b strings.Builder
	b.WriteString("Bạn là trợ lý sàng lọc triệu chứng. Tổng hợp kết luận cho người dùng dựa DUY NHẤT trên dữ kiện dưới đây.\n\n")
	b.WriteString("Triệu chứng người dùng mô tả: " + in.Text + "\n")
	if len(it.Entities.Symptoms) > 0 {
		b.WriteString("Triệu chứng trích xuất: " + strings.Join(it.Entities.Symptoms, ", ") + "\n")
	}
	if top != nil {
		b.WriteString(fmt.Sprintf("Kết quả phân tích hình ảnh: %s (xác suất %.2f)\n", top.Name, top.Prob))
	}
	b.WriteString("Mức độ sàng lọc: " + string(eval.Triage) + "\n")
	if len(eval.RedFlags) > 0 {
		b.WriteString("Dấu hiệu cảnh báo: " + strings.Join(eval.RedFlags, "; ") + "\n")
	}
	if in.ContextWindow != "" {
		b.WriteString("Hội thoại trước đó:\n" + in.ContextWindow + "\n")
	}
	b.WriteString("Hướng dẫn y khoa truy xuất được:\n")
	if len(snippets) == 0 {
		b.WriteString("(không có)\n")
	}
	for _, s := range snippets {
		b.WriteString("- " + s.Content + "\n")
	}
	b.WriteString(`
Trả lời đúng theo định dạng sau, giữ nguyên các nhãn:
SUMMARY: <tóm tắt triệu chứng trong một câu>
NARRATIVE: <giải thích thân thiện 2-4 câu>
ACTION: <việc người dùng nên làm>
TIMEFRAME: <thời hạn nên thực hiện>
HOME_CARE: <chăm sóc tại nhà>
WARNING_SIGNS:
- <dấu hiệu cần đi khám ngay>
- <dấu hiệu cần đi khám ngay>
`)
	return b.String()
}

// sections is what the marker extraction recovered from generated text.
type sections struct {
	Summary      string
	Narrative    string
	Action       string
	Timeframe    string
	HomeCare     string
	WarningSigns []string
}

var sectionMarker = regexp.MustCompile(`(?i)^(SUMMARY|NARRATIVE|ACTION|TIMEFRAME|HOME_CARE|WARNING_SIGNS):\s*(.*)$`)

// parseSections pulls the marked fields out of generated text. Unknown or
// missing markers simply leave fields empty; callers apply literal fallbacks.
func parseSections(text string) sections {
	var sec sections
	text = jsonutils.StripFences(text)
	current := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := sectionMarker.FindStringSubmatch(trimmed); m != nil {
			current = strings.ToUpper(m[1])
			value := strings.TrimSpace(m[2])
			switch current {
			case "SUMMARY":
				sec.Summary = value
			case "NARRATIVE":
				sec.Narrative = value
			case "ACTION":
				sec.Action = value
			case "TIMEFRAME":
				sec.Timeframe = value
			case "HOME_CARE":
				sec.HomeCare = value
			case "WARNING_SIGNS":
				if value != "" {
					sec.WarningSigns = append(sec.WarningSigns, value)
				}
			}
			continue
		}
		if trimmed == "" {
			continue
		}
		// Continuation lines extend the current section.
		switch current {
		case "NARRATIVE":
			sec.Narrative = strings.TrimSpace(sec.Narrative + " " + trimmed)
		case "WARNING_SIGNS":
			sec.WarningSigns = append(sec.WarningSigns, strings.TrimSpace(strings.TrimPrefix(trimmed, "-")))
		}
	}
	return sec
}

// recommendation assembles the final recommendation, substituting literal
// fallbacks for any field the generation did not produce. No field is ever
// left empty.
func (s sections) recommendation(level types.TriageLevel) types.Recommendation {
	rec := defaultRecommendation(level)
	if s.Action != "" {
		rec.Action = s.Action
	}
	if s.Timeframe != "" {
		rec.Timeframe = s.Timeframe
	}
	if s.HomeCare != "" {
		rec.HomeCareAdvice = s.HomeCare
	}
	if len(s.WarningSigns) > 0 {
		rec.WarningSigns = s.WarningSigns
	}
	return rec
}

func defaultRecommendation(level types.TriageLevel) types.Recommendation {
	rec := types.Recommendation{
		Action:         "Theo dõi triệu chứng và đi khám nếu không cải thiện",
		HomeCareAdvice: "Nghỉ ngơi, uống đủ nước, giữ vệ sinh vùng bị ảnh hưởng",
		WarningSigns:   []string{"Triệu chứng nặng lên nhanh", "Sốt cao kéo dài", "Khó thở hoặc đau ngực"},
	}
	switch level {
	case types.LevelEmergency:
		rec.Action = "Gọi cấp cứu hoặc đến phòng cấp cứu gần nhất"
		rec.Timeframe = "ngay lập tức"
	case types.LevelUrgent:
		rec.Action = "Đến cơ sở y tế để được thăm khám"
		rec.Timeframe = "trong vòng 24 giờ"
	case types.LevelSelfCare:
		rec.Action = "Tự chăm sóc tại nhà, theo dõi triệu chứng"
		rec.Timeframe = "khi triệu chứng thay đổi"
	default:
		rec.Timeframe = "trong vòng vài ngày"
	}
	return rec
}
