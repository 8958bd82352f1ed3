package mq

import (
	"context"
	"log"

	"walletcore/internal/config"

	"github.com/IBM/sarama"
)

// Producer Kafka 同步生产者
// saga 协调器推事件批次用，发送按 aid 做 key，保证同一账户的事件落同一分区、
// 消费侧天然按账户串行
type Producer struct {
	sp sarama.SyncProducer
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg *config.KafkaConfig) *Producer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	sp, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("创建 Kafka 生产者失败: %v", err)
	}

	log.Println("Kafka 生产者创建成功")
	return &Producer{sp: sp}
}

// Send 发送消息
func (p *Producer) Send(topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := p.sp.SendMessage(msg)
	return err
}

// Close 关闭生产者
func (p *Producer) Close() {
	if p.sp != nil {
		p.sp.Close()
	}
}

// NewConsumerGroup 创建消费组
func NewConsumerGroup(cfg *config.KafkaConfig) sarama.ConsumerGroup {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, kafkaConfig)
	if err != nil {
		log.Fatalf("创建 Kafka 消费组失败: %v", err)
	}

	log.Println("Kafka 消费组创建成功")
	return group
}

// StartConsume 启动消费循环，直到 ctx 取消
// rebalance 后 Consume 会返回，需要外层循环重新进入
func StartConsume(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler sarama.ConsumerGroupHandler) {
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			log.Printf("[Consumer] 消费异常: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
