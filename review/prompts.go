package review

const reviewerSystem = "你是后台记忆管理程序。请仔细思考后做出决策。"

const promotePrompt = `现在有一条记忆被频繁提及，需要你判断是否应该升级为「核心记忆」。

## 什么是核心记忆？
核心记忆是**永远不会被遗忘**的重要事实。只有以下类型才适合：

| ✅ 适合 | ❌ 不适合 |
|--------|----------|
| 主人的身份信息（姓名、生日、职业） | 临时状态（"主人今天很累"） |
| 长期稳定的喜好（"主人喜欢猫"） | 短期计划（"主人明天要开会"） |
| 主人的环境/设备信息 | 只是最近聊得多但不是长期事实 |
| 主人明确说"一定要记住"的事 | 推测或不确定的信息 |

## 待审核的记忆
%s

## 相关记忆（供参考）
%s

## 判断流程
1. 这条记忆描述的是**长期稳定事实**还是**临时状态**？
2. 主人是否**跨越较长时间多次确认**过这件事？
3. 这条记忆是否包含**个人情感、偏好、或身份信息**？

## 可用操作
- 需要更多信息时输出 [SEARCH:关键词]
- 最终决策输出 [PROMOTE]、[KEEP] 或 [DELETE]

先写出你的思考过程（1-2句话），然后输出操作指令。

现在开始你的分析：`

const decayPrompt = `有一条记忆长时间没有被提及，重要性已经很低，需要你判断是否应该删除。

## 待审核的记忆
%s

## 相关记忆（供参考）
%s

## 判断标准
1. 这条记忆是否还有价值？
2. 是否有更新的记忆替代了它？
3. 删除它会不会忘记重要的事？

## 可用操作
- 需要更多信息时输出 [SEARCH:关键词]
- 最终决策输出 [KEEP] 或 [DELETE]

先写出你的思考过程（1-2句话），然后输出操作指令。

现在开始你的分析：`
