package pipeline

import "github.com/BaSui01/counselflow/types"

// MaxFollowUps 每次准备模式返回的预期追问上限
const MaxFollowUps = 5

var followUps = map[types.Domain][]string{
	types.DomainLifestyle: {
		"운동은 일주일에 몇 번, 얼마나 오래 하는 것이 좋을까요?",
		"식후 산책은 혈당 관리에 어느 정도 도움이 되나요?",
		"수면 부족이 혈당에 영향을 주나요?",
		"스트레스를 관리하는 구체적인 방법이 있을까요?",
		"생활 습관 변화의 효과는 언제부터 나타나나요?",
	},
	types.DomainNutrition: {
		"탄수화물은 하루에 어느 정도 섭취해도 괜찮을까요?",
		"과일은 언제, 얼마나 먹는 것이 좋을까요?",
		"간식으로 추천할 만한 음식이 있나요?",
		"외식할 때 메뉴를 고르는 요령이 있을까요?",
		"식사 순서를 바꾸면 혈당에 차이가 있나요?",
	},
	types.DomainMedical: {
		"현재 복용 중인 약과 관련해 담당 의사에게 무엇을 확인해야 하나요?",
		"혈당 수치가 어느 정도면 병원에 연락해야 하나요?",
		"저혈당 증상이 나타나면 어떻게 대처해야 하나요?",
		"정기 검사는 얼마나 자주 받아야 하나요?",
		"합병증을 예방하려면 무엇을 주의해야 하나요?",
	},
	types.DomainOther: {
		"혈당 관리를 위해 가장 먼저 바꿔야 할 습관은 무엇인가요?",
		"가족이 함께 도울 수 있는 방법이 있을까요?",
		"혈당 기록은 어떻게 하는 것이 좋을까요?",
		"상담 후 다음 단계로 무엇을 하면 좋을까요?",
	},
}

// FollowUpQuestions 按领域返回咨询前准备用的预期追问
func FollowUpQuestions(d types.Domain) []string {
	qs, ok := followUps[d]
	if !ok {
		qs = followUps[types.DomainOther]
	}
	if len(qs) > MaxFollowUps {
		qs = qs[:MaxFollowUps]
	}
	out := make([]string, len(qs))
	copy(out, qs)
	return out
}
