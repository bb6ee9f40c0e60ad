package provider

import (
	"fmt"
	"strings"
)

// LesionClass is one diagnosable skin-lesion class. Code is the id_code the
// model reports.
type LesionClass struct {
	Code int
	Name string
}

// LesionClasses lists the classes the diagnosis models are tuned on.
var LesionClasses = []LesionClass{
	{0, "광선각화증"},
	{1, "기저세포암"},
	{2, "멜라닌세포모반"},
	{3, "보웬병"},
	{4, "비립종"},
	{5, "사마귀"},
	{6, "악성흑색종"},
	{7, "지루각화증"},
	{8, "편평세포암"},
	{9, "표피낭종"},
	{10, "피부섬유종"},
	{11, "피지샘증식증"},
	{12, "혈관종"},
	{13, "화농 육아종"},
	{14, "흑색점"},
}

const replyFormat = `<root><label id_code="{코드}" score="{점수}">{진단명}</label><summary>{진단소견}</summary><similar_labels><similar_label id_code="{코드}" score="{점수}">{유사질병명}</similar_label><similar_label id_code="{코드}" score="{점수}">{유사질병명}</similar_label></similar_labels></root>`

const replyExample = `<root><label id_code="0" score="67.6">광선각화증</label><summary>자외선 노출이 많은 얼굴 부위에 붉은 각질성 반점이 관찰됩니다. 방치 시 편평세포암으로 진행할 수 있어 조기 치료가 권장됩니다.</summary><similar_labels><similar_label id_code="3" score="16.6">보웬병</similar_label><similar_label id_code="1" score="5.7">기저세포암</similar_label></similar_labels></root>`

var systemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("너는 피부 병변을 진단하는 전문 AI이다. 아래 목록에서 환자의 병변에 가장 적합한 질병 하나를 선택하고, ")
	b.WriteString("관찰된 특징이 진단 기준의 어느 부분에 해당하는지 설명하라.\n\n")
	for _, c := range LesionClasses {
		fmt.Fprintf(&b, "%d: %s\n", c.Code, c.Name)
	}
	b.WriteString("\n응답은 반드시 다음 XML 형식을 따른다. score는 0에서 100 사이의 확신도이다.\n")
	b.WriteString(replyFormat)
	b.WriteString("\n\n예시:\n")
	b.WriteString(replyExample)
	b.WriteString("\n\n의료 면책 조항: 이 진단은 참고용이며, 최종 진단은 반드시 의료진과 상담하세요.")
	return b.String()
}

// SystemPrompt returns the instruction sent ahead of every diagnosis request.
func SystemPrompt() string {
	return systemPrompt
}

const noAdditionalInfo = "추가 정보 없음"

// TextPrompt renders the user message for a text diagnosis.
func TextPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("환자의 피부 병변 정보:\n\n")
	fmt.Fprintf(&b, "병변 설명: %s\n", req.Description)
	fmt.Fprintf(&b, "추가 정보: %s\n\n", orDefault(req.AdditionalInfo, noAdditionalInfo))
	b.WriteString("위 정보를 바탕으로 피부 병변을 진단하고 지정된 XML 형식으로만 응답하라.")
	return b.String()
}

// ImagePrompt renders the text part of an image diagnosis message. The
// questionnaire, when present, is included verbatim as JSON.
func ImagePrompt(req Request) string {
	var b strings.Builder
	b.WriteString("환자의 피부 병변 이미지를 분석하라.\n\n")
	fmt.Fprintf(&b, "추가 정보: %s\n", orDefault(req.AdditionalInfo, noAdditionalInfo))
	if len(req.Questionnaire) > 0 {
		fmt.Fprintf(&b, "문진 정보(JSON): %s\n", req.Questionnaire)
	}
	b.WriteString("\n이미지에서 관찰된 구체적 특징을 진단소견에 포함하고 지정된 XML 형식으로만 응답하라.")
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

const refineSystemPrompt = `너는 외래 접수 간호사처럼, 환자의 자유 서술을 듣고 의사에게 말할 때 어떤 점을 중점적으로 설명하면 좋은지 '꿀팁' 한 줄로만 알려주는 역할을 한다.

[원칙]
- 진단을 내리거나 질환명을 단정하지 않는다.
- 과장, 추측, 치료 지시, 검사 지시는 하지 않는다.
- 출력은 반드시 "꿀팁:"으로 시작하는 한 문장으로만 작성한다.
- 환자가 강조하면 좋은 주요 부위, 증상 양상, 기간, 악화/완화 요인, 변화 양상을 포함한다.
- 제공된 정보만 사용하고, 없으면 추정하지 않는다.

[예시]
환자: 안쪽 허벅지 부분에 붉고 작은 알갱이가 여러개가 생기고 간지러움 그리고 긁었더니 너무 따가움
꿀팁: 허벅지 안쪽 발진과 긁은 뒤 따가움이 심해진 점을 강조하세요.

환자: 3일 전 새 세제 쓰고 나서 양쪽 손등이 빨개지고 따갑고 가렵고, 물 닿으면 더 화끈거려요
꿀팁: 새 세제 사용 후 손등 발진이 생겼고 물 닿을 때 악화된다는 점을 강조하세요.

환자: 어제부터 얼굴 볼 쪽이 빨갛게 달아오르고 따끔거려요, 화장품 바르니 더 심해졌어요
꿀팁: 얼굴 볼 붉어짐과 화장품 사용 후 따끔거림이 심해진 점을 강조하세요.`

// DefaultRefineLanguage is used when a refine request names no language.
const DefaultRefineLanguage = "ko"

// RefineSystemPrompt returns the instruction for symptom refinement.
func RefineSystemPrompt() string {
	return refineSystemPrompt
}

// RefinePrompt renders the user message for a refine request.
func RefinePrompt(req Request) string {
	return fmt.Sprintf("환자 원문: %s\n목표 언어: %s\n위 원문을 의사에게 전달하기 좋게 간결히 정제해줘.",
		req.Description, orDefault(req.Language, DefaultRefineLanguage))
}
