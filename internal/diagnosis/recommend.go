package diagnosis

import (
	"strings"

	"github.com/kalambet/dermadx/internal/parser"
)

const disclaimer = "※ 본 결과는 AI 예측값으로 참고용입니다. 정확한 진단은 반드시 전문의 상담을 받으시기 바랍니다."

// urgentConditions are malignant or pre-malignant classes that warrant
// prompt referral regardless of confidence.
var urgentConditions = []string{"악성흑색종", "기저세포암", "편평세포암", "보웬병"}

// Recommend derives follow-up advice from the label and confidence.
func Recommend(label string, confidence *float64, status parser.Status) string {
	var advice string
	switch {
	case status == parser.StatusFallback || confidence == nil:
		advice = "구조화된 진단 결과를 얻지 못했습니다. 피부과 전문의의 직접 진료를 권장합니다."
	case *confidence >= 0.8:
		advice = "높은 신뢰도의 진단 결과입니다. 가능한 빠른 시일 내에 피부과 전문의 상담을 받으시길 권합니다."
	case *confidence >= 0.6:
		advice = "중간 정도의 신뢰도입니다. 추가 검사나 전문의 상담을 통해 정확한 진단을 받아보시기 바랍니다."
	default:
		advice = "신뢰도가 낮은 결과입니다. 다른 각도에서 재촬영하거나 피부과 전문의 진료를 권장합니다."
	}

	if status == parser.StatusOK {
		for _, u := range urgentConditions {
			if strings.Contains(label, u) {
				advice += " 해당 질환은 조기 진단과 치료가 중요하므로 즉시 전문의 상담을 받으시기 바랍니다."
				break
			}
		}
	}
	return advice + "\n\n" + disclaimer
}
