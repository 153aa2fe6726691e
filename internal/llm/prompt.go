package llm

import (
	"fmt"
	"strings"
)

// Answer style knobs a user can pick in settings.
const (
	StyleDetailed = "detailed"
	StyleConcise  = "concise"
)

// BuildPrompt assembles the instruction sent alongside the problem image,
// tailored to the student's school grade and preferences.
func BuildPrompt(grade, language, style string) string {
	if strings.TrimSpace(grade) == "" {
		grade = "مستوى غير محدد"
	}
	if language == "" {
		language = "ar"
	}

	var sb strings.Builder
	sb.WriteString("أنت مدرس رياضيات خبير بالمنهاج المغربي. ")
	sb.WriteString(fmt.Sprintf("حلّل صورة التمرين المرفقة وقدّم حلاً موجهاً لتلميذ في مستوى: %s. ", grade))

	switch style {
	case StyleConcise:
		sb.WriteString("قدّم الحل النهائي مع الخطوات الأساسية فقط، دون إطالة. ")
	default:
		sb.WriteString("اشرح الحل خطوة خطوة مع تعليل كل خطوة، وذكّر بالقاعدة أو المبرهنة المستعملة. ")
	}

	if language != "ar" {
		sb.WriteString(fmt.Sprintf("اكتب الجواب باللغة التالية: %s. ", language))
	}
	sb.WriteString("إذا كانت الصورة تحتوي على أكثر من تمرين، حلّ الأول فقط واطلب صورة أوضح للباقي.")

	return sb.String()
}
