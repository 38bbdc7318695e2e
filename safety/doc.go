/*
Package safety 提供咨询问题的安全分级与输出防护。

# 概述

分类器只做本地关键词/正则匹配，在固定时延预算内给出
clear、caution、escalate 三级之一。escalate 表优先，其次 caution，
两者同时命中时 escalate 胜出。

# 核心类型

  - KeywordTables - 启动时编译一次的只读关键词表
  - Classifier    - Classify / Evaluate，超预算时默认 caution
  - Envelope      - 横幅、上报文案与 escalate 覆盖答案
  - Ratchet       - 单次运行内只升不降的安全等级
  - Scrubber      - 邮箱、电话、주민등록번호、账号、姓名标签脱敏
*/
package safety
